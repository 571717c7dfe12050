// Package mute keeps the authoritative set of active member mutes and expires
// them on a fixed sweep period.
package mute

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ExpiryLayout is the stored form of an expiry. Empty means indefinite.
const ExpiryLayout = time.RFC3339

type Record struct {
	GuildID     string
	MemberID    string
	ExpiresAt   *time.Time
	Reason      string
	ModeratorID string
	// RoleID is the role applied when the mute was issued.
	RoleID string
	// Malformed marks a record whose stored expiry could not be parsed.
	Malformed bool
}

func (r Record) Indefinite() bool {
	return r.ExpiresAt == nil && !r.Malformed
}

func (r Record) expired(now time.Time) bool {
	if r.Malformed {
		return true
	}
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// StoredRecord is the persisted shape of a Record.
type StoredRecord struct {
	GuildID     string
	MemberID    string
	ExpiresAt   string
	Reason      string
	ModeratorID string
	RoleID      string
}

// Details carries the moderator-facing context of a mute.
type Details struct {
	Reason      string
	ModeratorID string
	RoleID      string
}

type Persister interface {
	Load(ctx context.Context) ([]StoredRecord, error)
	Save(ctx context.Context, records []StoredRecord) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Ledger struct {
	mu sync.Mutex
	// flushMu orders snapshot writes so an older snapshot never lands last.
	flushMu sync.Mutex
	clock   Clock
	store   Persister
	records map[string]Record
	dirty   bool
}

func NewLedger(store Persister) *Ledger {
	return &Ledger{
		clock:   realClock{},
		store:   store,
		records: make(map[string]Record),
	}
}

func (l *Ledger) WithClock(clock Clock) {
	l.clock = clock
}

func (l *Ledger) Mute(guildID, memberID string, duration time.Duration, details Details) Record {
	record := Record{
		GuildID:     guildID,
		MemberID:    memberID,
		Reason:      details.Reason,
		ModeratorID: details.ModeratorID,
		RoleID:      details.RoleID,
	}
	if duration > 0 {
		until := l.clock.Now().UTC().Add(duration)
		record.ExpiresAt = &until
	}

	l.mu.Lock()
	l.records[key(guildID, memberID)] = record
	l.dirty = true
	l.mu.Unlock()
	return record
}

func (l *Ledger) Unmute(guildID, memberID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(guildID, memberID)
	if _, ok := l.records[k]; !ok {
		return false
	}
	delete(l.records, k)
	l.dirty = true
	return true
}

func (l *Ledger) Get(guildID, memberID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[key(guildID, memberID)]
	return record, ok
}

func (l *Ledger) List(guildID string) []Record {
	l.mu.Lock()
	records := make([]Record, 0)
	for _, record := range l.records {
		if record.GuildID == guildID {
			records = append(records, record)
		}
	}
	l.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].MemberID < records[j].MemberID
	})
	return records
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Sweep removes and returns every record that is expired at now. Scan and
// removal happen under the same lock, so a record is returned at most once.
func (l *Ledger) Sweep(now time.Time) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expired []Record
	for k, record := range l.records {
		if !record.expired(now) {
			continue
		}
		expired = append(expired, record)
		delete(l.records, k)
	}
	if len(expired) > 0 {
		l.dirty = true
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].GuildID != expired[j].GuildID {
			return expired[i].GuildID < expired[j].GuildID
		}
		return expired[i].MemberID < expired[j].MemberID
	})
	return expired
}

// Load replaces the in-memory set with the persisted snapshot.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	stored, err := l.store.Load(ctx)
	if err != nil {
		return err
	}

	records := make(map[string]Record, len(stored))
	for _, item := range stored {
		record := fromStored(item)
		records[key(record.GuildID, record.MemberID)] = record
	}

	l.mu.Lock()
	l.records = records
	l.dirty = false
	l.mu.Unlock()
	return nil
}

// Flush writes a snapshot when something changed since the last flush. The
// snapshot is taken under the lock; the write happens outside it. Concurrent
// flushes are serialized.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	snapshot := make([]StoredRecord, 0, len(l.records))
	for _, record := range l.records {
		snapshot = append(snapshot, toStored(record))
	}
	l.dirty = false
	l.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].GuildID != snapshot[j].GuildID {
			return snapshot[i].GuildID < snapshot[j].GuildID
		}
		return snapshot[i].MemberID < snapshot[j].MemberID
	})

	if err := l.store.Save(ctx, snapshot); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return err
	}
	return nil
}

func key(guildID, memberID string) string {
	return guildID + ":" + memberID
}

func fromStored(item StoredRecord) Record {
	record := Record{
		GuildID:     item.GuildID,
		MemberID:    item.MemberID,
		Reason:      item.Reason,
		ModeratorID: item.ModeratorID,
		RoleID:      item.RoleID,
	}
	if item.ExpiresAt == "" {
		return record
	}
	until, err := time.Parse(ExpiryLayout, item.ExpiresAt)
	if err != nil {
		record.Malformed = true
		return record
	}
	until = until.UTC()
	record.ExpiresAt = &until
	return record
}

func toStored(record Record) StoredRecord {
	item := StoredRecord{
		GuildID:     record.GuildID,
		MemberID:    record.MemberID,
		Reason:      record.Reason,
		ModeratorID: record.ModeratorID,
		RoleID:      record.RoleID,
	}
	switch {
	case record.Malformed:
		// keep it unparseable so the next load still sweeps it
		item.ExpiresAt = "invalid"
	case record.ExpiresAt != nil:
		item.ExpiresAt = record.ExpiresAt.UTC().Format(ExpiryLayout)
	}
	return item
}
