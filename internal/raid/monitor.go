// Package raid counts member joins per guild over a sliding window and
// engages a lockdown once per crossing of the configured limit.
package raid

import (
	"context"
	"sync"
	"time"
)

type State int

const (
	StateNormal State = iota
	StateLocked
)

func (s State) String() string {
	if s == StateLocked {
		return "locked"
	}
	return "normal"
}

// LockdownFunc is invoked on every Normal to Locked transition.
type LockdownFunc func(ctx context.Context, guildID string) error

type Decision struct {
	Count     int
	Triggered bool
	Err       error
}

type guildLog struct {
	joins []time.Time
	state State
}

type Monitor struct {
	mu         sync.Mutex
	retention  time.Duration
	onLockdown LockdownFunc
	guilds     map[string]*guildLog
}

// NewMonitor keeps joins for retention, which must cover the largest window
// callers will query.
func NewMonitor(retention time.Duration, onLockdown LockdownFunc) *Monitor {
	return &Monitor{
		retention:  retention,
		onLockdown: onLockdown,
		guilds:     make(map[string]*guildLog),
	}
}

func (m *Monitor) SetRetention(retention time.Duration) {
	m.mu.Lock()
	m.retention = retention
	m.mu.Unlock()
}

func (m *Monitor) RecordJoin(guildID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(guildID, now)
}

func (m *Monitor) CountRecent(guildID string, now time.Time, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(guildID, now, window)
}

func (m *Monitor) ShouldLockdown(guildID string, now time.Time, window time.Duration, limit int) bool {
	if limit <= 0 {
		return false
	}
	return m.CountRecent(guildID, now, window) >= limit
}

// Observe records a join and fires the lockdown callback if this join moved
// the guild from Normal to Locked. The callback runs outside the lock.
func (m *Monitor) Observe(ctx context.Context, guildID string, now time.Time, window time.Duration, limit int) Decision {
	m.mu.Lock()
	m.recordLocked(guildID, now)
	count := m.countLocked(guildID, now, window)
	log := m.guilds[guildID]
	triggered := limit > 0 && count >= limit && log.state == StateNormal
	if triggered {
		log.state = StateLocked
	}
	m.mu.Unlock()

	decision := Decision{Count: count, Triggered: triggered}
	if triggered {
		lockdownCount.Inc()
		if m.onLockdown != nil {
			decision.Err = m.onLockdown(ctx, guildID)
		}
		if decision.Err != nil {
			lockdownFailCount.Inc()
		}
	}
	return decision
}

// Lock moves a guild to Locked without a join, used for manual lockdowns.
// It reports whether the state changed.
func (m *Monitor) Lock(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.logLocked(guildID)
	if log.state == StateLocked {
		return false
	}
	log.state = StateLocked
	return true
}

// Release is the only way out of Locked.
func (m *Monitor) Release(guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.guilds[guildID]
	if log == nil || log.state != StateLocked {
		return false
	}
	log.state = StateNormal
	return true
}

func (m *Monitor) State(guildID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.guilds[guildID]
	if log == nil {
		return StateNormal
	}
	return log.state
}

func (m *Monitor) recordLocked(guildID string, now time.Time) {
	log := m.logLocked(guildID)
	if m.retention > 0 {
		cutoff := now.Add(-m.retention)
		idx := 0
		for _, join := range log.joins {
			if !join.Before(cutoff) {
				break
			}
			idx++
		}
		log.joins = log.joins[idx:]
	}
	log.joins = append(log.joins, now)
}

func (m *Monitor) countLocked(guildID string, now time.Time, window time.Duration) int {
	log := m.guilds[guildID]
	if log == nil {
		return 0
	}
	cutoff := now.Add(-window)
	count := 0
	for _, join := range log.joins {
		if join.Before(cutoff) || join.After(now) {
			continue
		}
		count++
	}
	return count
}

func (m *Monitor) logLocked(guildID string) *guildLog {
	log := m.guilds[guildID]
	if log == nil {
		log = &guildLog{}
		m.guilds[guildID] = log
	}
	return log
}

