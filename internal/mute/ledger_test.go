package mute

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type memPersister struct {
	records []StoredRecord
	saves   int
	saveErr error
}

func (m *memPersister) Load(ctx context.Context) ([]StoredRecord, error) {
	return append([]StoredRecord(nil), m.records...), nil
}

func (m *memPersister) Save(ctx context.Context, records []StoredRecord) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.records = append([]StoredRecord(nil), records...)
	return nil
}

var epoch = time.Unix(0, 0).UTC()

func newTestLedger(store Persister) (*Ledger, *fakeClock) {
	clock := &fakeClock{now: epoch}
	ledger := NewLedger(store)
	ledger.WithClock(clock)
	return ledger, clock
}

func TestSweepTimedMute(t *testing.T) {
	assert := assert.New(t)
	ledger, _ := newTestLedger(nil)

	ledger.Mute("1", "42", 10*time.Second, Details{})

	assert.Empty(ledger.Sweep(epoch.Add(5 * time.Second)))

	expired := ledger.Sweep(epoch.Add(11 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal("1", expired[0].GuildID)
	assert.Equal("42", expired[0].MemberID)

	assert.Empty(ledger.Sweep(epoch.Add(12 * time.Second)))
}

func TestSweepIndefiniteMute(t *testing.T) {
	assert := assert.New(t)
	ledger, _ := newTestLedger(nil)

	record := ledger.Mute("1", "7", 0, Details{})
	assert.True(record.Indefinite())

	assert.Empty(ledger.Sweep(epoch.Add(10_000_000 * time.Second)))
	_, ok := ledger.Get("1", "7")
	assert.True(ok)
}

func TestSweepExactExpiry(t *testing.T) {
	ledger, _ := newTestLedger(nil)
	ledger.Mute("1", "2", time.Minute, Details{})

	assert.Empty(t, ledger.Sweep(epoch.Add(time.Minute-time.Nanosecond)))
	assert.Len(t, ledger.Sweep(epoch.Add(time.Minute)), 1)
}

func TestSweepNeverReturnsFutureExpiry(t *testing.T) {
	ledger, _ := newTestLedger(nil)
	for i, d := range []time.Duration{time.Second, 5 * time.Second, 30 * time.Second, time.Hour, 0} {
		ledger.Mute("g", string(rune('a'+i)), d, Details{})
	}

	now := epoch.Add(10 * time.Second)
	for _, record := range ledger.Sweep(now) {
		require.NotNil(t, record.ExpiresAt)
		assert.False(t, record.ExpiresAt.After(now))
	}
	assert.Equal(t, 3, ledger.Len())
	assert.Empty(t, ledger.Sweep(now))
}

func TestMuteLastCallWins(t *testing.T) {
	assert := assert.New(t)
	ledger, _ := newTestLedger(nil)

	ledger.Mute("1", "42", time.Hour, Details{Reason: "first", ModeratorID: "m1"})
	ledger.Mute("1", "42", 10*time.Second, Details{Reason: "second", ModeratorID: "m2"})
	record, ok := ledger.Get("1", "42")
	require.True(t, ok)
	assert.Equal("second", record.Reason)
	assert.Equal(epoch.Add(10*time.Second), *record.ExpiresAt)

	assert.True(ledger.Unmute("1", "42"))
	assert.False(ledger.Unmute("1", "42"))
	_, ok = ledger.Get("1", "42")
	assert.False(ok)

	ledger.Mute("1", "42", 0, Details{})
	record, ok = ledger.Get("1", "42")
	require.True(t, ok)
	assert.True(record.Indefinite())
	assert.Equal(1, ledger.Len())
}

func TestListIsScopedToGuild(t *testing.T) {
	ledger, _ := newTestLedger(nil)
	ledger.Mute("1", "b", 0, Details{})
	ledger.Mute("1", "a", 0, Details{})
	ledger.Mute("2", "c", 0, Details{})

	records := ledger.List("1")
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].MemberID)
	assert.Equal(t, "b", records[1].MemberID)
	assert.Empty(t, ledger.List("3"))
}

func TestMalformedExpirySweptOnce(t *testing.T) {
	assert := assert.New(t)
	store := &memPersister{records: []StoredRecord{
		{GuildID: "1", MemberID: "5", ExpiresAt: "not-a-time"},
		{GuildID: "1", MemberID: "6", ExpiresAt: ""},
		{GuildID: "1", MemberID: "7", ExpiresAt: epoch.Add(time.Hour).Format(ExpiryLayout)},
	}}
	ledger, _ := newTestLedger(store)
	require.NoError(t, ledger.Load(context.Background()))
	assert.Equal(3, ledger.Len())

	expired := ledger.Sweep(epoch)
	require.Len(t, expired, 1)
	assert.Equal("5", expired[0].MemberID)
	assert.True(expired[0].Malformed)

	assert.Empty(ledger.Sweep(epoch))
	assert.Equal(2, ledger.Len())
}

func TestFlushWritesSnapshotOnlyWhenDirty(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := &memPersister{}
	ledger, _ := newTestLedger(store)

	require.NoError(t, ledger.Flush(ctx))
	assert.Equal(0, store.saves)

	ledger.Mute("1", "42", 10*time.Second, Details{Reason: "spam", ModeratorID: "mod", RoleID: "r1"})
	ledger.Mute("1", "43", 0, Details{})
	require.NoError(t, ledger.Flush(ctx))
	require.NoError(t, ledger.Flush(ctx))
	assert.Equal(1, store.saves)
	require.Len(t, store.records, 2)
	assert.Equal(epoch.Add(10*time.Second).Format(ExpiryLayout), store.records[0].ExpiresAt)
	assert.Equal("", store.records[1].ExpiresAt)

	reloaded, _ := newTestLedger(store)
	require.NoError(t, reloaded.Load(ctx))
	record, ok := reloaded.Get("1", "42")
	require.True(t, ok)
	assert.Equal("spam", record.Reason)
	assert.Equal("r1", record.RoleID)
	assert.Equal(epoch.Add(10*time.Second), *record.ExpiresAt)
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	ctx := context.Background()
	store := &memPersister{saveErr: errors.New("disk full")}
	ledger, _ := newTestLedger(store)
	ledger.Mute("1", "42", 0, Details{})

	assert.Error(t, ledger.Flush(ctx))
	store.saveErr = nil
	require.NoError(t, ledger.Flush(ctx))
	assert.Equal(t, 1, store.saves)
}

type blockingPersister struct {
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	calls   int
	last    []StoredRecord
}

func (b *blockingPersister) Load(ctx context.Context) ([]StoredRecord, error) {
	return nil, nil
}

func (b *blockingPersister) Save(ctx context.Context, records []StoredRecord) error {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		close(b.entered)
		<-b.release
	}
	b.mu.Lock()
	b.last = append([]StoredRecord(nil), records...)
	b.mu.Unlock()
	return nil
}

func TestConcurrentFlushesLandInOrder(t *testing.T) {
	ctx := context.Background()
	store := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	ledger, _ := newTestLedger(store)

	ledger.Mute("1", "a", 0, Details{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, ledger.Flush(ctx))
	}()
	<-store.entered

	ledger.Mute("1", "b", 0, Details{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, ledger.Flush(ctx))
	}()
	// give the second flush a chance to race the first write
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.last, 2)
	assert.Equal(t, "a", store.last[0].MemberID)
	assert.Equal(t, "b", store.last[1].MemberID)
}

func TestSweepConcurrentWithMutations(t *testing.T) {
	ledger, _ := newTestLedger(nil)
	now := epoch.Add(time.Minute)
	for i := 0; i < 200; i++ {
		ledger.Mute("1", "old"+strconv.Itoa(i), time.Second, Details{})
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		swept []Record
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				expired := ledger.Sweep(now)
				mu.Lock()
				swept = append(swept, expired...)
				mu.Unlock()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := "new" + strconv.Itoa(i)
			ledger.Mute("1", id, time.Hour, Details{})
			if i%2 == 0 {
				ledger.Unmute("1", id)
			}
		}
	}()
	wg.Wait()

	seen := make(map[string]bool)
	for _, record := range swept {
		require.False(t, seen[record.MemberID], "%s swept twice", record.MemberID)
		seen[record.MemberID] = true
		require.False(t, record.ExpiresAt.After(now), "%s swept before expiry", record.MemberID)
	}
	assert.Len(t, seen, 200)
	assert.Equal(t, 100, ledger.Len())
	for i := 1; i < 200; i += 2 {
		_, ok := ledger.Get("1", "new"+strconv.Itoa(i))
		assert.True(t, ok)
	}
}
