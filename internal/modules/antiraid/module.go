package antiraid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardian/internal/modules/audit"
	"guardian/internal/raid"
)

type Settings struct {
	Enabled bool
	Joins   int
	Window  time.Duration
}

type Module struct {
	mu        sync.Mutex
	retention time.Duration
	monitor   *raid.Monitor
	audit     *audit.Logger
}

func New(monitor *raid.Monitor, retention time.Duration, auditLogger *audit.Logger) *Module {
	monitor.SetRetention(retention)
	return &Module{monitor: monitor, retention: retention, audit: auditLogger}
}

// HandleJoin feeds one join into the monitor when anti-raid is enabled for
// the guild. Retention grows to cover the largest window any guild uses.
func (m *Module) HandleJoin(ctx context.Context, guildID, userID string, now time.Time, settings Settings) raid.Decision {
	if !settings.Enabled || guildID == "" {
		return raid.Decision{}
	}

	m.mu.Lock()
	if settings.Window > m.retention {
		m.retention = settings.Window
		m.monitor.SetRetention(settings.Window)
	}
	m.mu.Unlock()

	decision := m.monitor.Observe(ctx, guildID, now, settings.Window, settings.Joins)
	if decision.Triggered && m.audit != nil {
		detail := fmt.Sprintf("type=RAID rule=%djoins/%ds value=%djoins", settings.Joins, int(settings.Window.Seconds()), decision.Count)
		if decision.Err != nil {
			detail += " error=" + decision.Err.Error()
		}
		m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventLockdown, detail)
	}
	return decision
}

func (m *Module) Locked(guildID string) bool {
	return m.monitor.State(guildID) == raid.StateLocked
}

// Resume marks guilds Locked without firing the lockdown callback. It is fed
// the guilds whose stored lockdown flag survived a restart.
func (m *Module) Resume(guildIDs []string) int {
	resumed := 0
	for _, guildID := range guildIDs {
		if m.monitor.Lock(guildID) {
			resumed++
		}
	}
	return resumed
}
