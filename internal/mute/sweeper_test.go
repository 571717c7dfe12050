package mute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTickContinuesPastFailedExpiry(t *testing.T) {
	assert := assert.New(t)
	store := &memPersister{}
	ledger, clock := newTestLedger(store)
	ledger.Mute("1", "a", time.Second, Details{})
	ledger.Mute("1", "b", time.Second, Details{})
	ledger.Mute("1", "c", time.Second, Details{})
	ledger.Mute("1", "d", 0, Details{})

	var seen []string
	sweeper := NewSweeper(ledger, time.Second, func(ctx context.Context, record Record) error {
		seen = append(seen, record.MemberID)
		if record.MemberID == "b" {
			return errors.New("missing permissions")
		}
		if record.MemberID == "c" {
			panic("boom")
		}
		return nil
	}, zap.NewNop())

	clock.now = epoch.Add(2 * time.Second)
	report := sweeper.Tick(context.Background())

	assert.Equal([]string{"a", "b", "c"}, seen)
	require.Len(t, report.Outcomes, 3)
	assert.NoError(report.Outcomes[0].Err)
	assert.Error(report.Outcomes[1].Err)
	assert.Error(report.Outcomes[2].Err)
	assert.Equal(2, report.Failed())
	assert.Error(report.Err())

	// removal is committed regardless of the callback result
	assert.Equal(1, ledger.Len())
	require.Len(t, store.records, 1)
	assert.Equal("d", store.records[0].MemberID)

	report = sweeper.Tick(context.Background())
	assert.Empty(report.Outcomes)
	assert.NoError(report.Err())
}

func TestTickReportsFlushError(t *testing.T) {
	store := &memPersister{saveErr: errors.New("locked")}
	ledger, clock := newTestLedger(store)
	ledger.Mute("1", "a", time.Second, Details{})

	sweeper := NewSweeper(ledger, 0, nil, nil)
	assert.Equal(t, DefaultSweepInterval, sweeper.Interval())

	clock.now = epoch.Add(time.Minute)
	report := sweeper.Tick(context.Background())
	require.Len(t, report.Outcomes, 1)
	assert.Error(t, report.FlushErr)
	assert.Error(t, report.Err())
}

func TestRunStopsOnCancel(t *testing.T) {
	ledger, _ := newTestLedger(nil)
	sweeper := NewSweeper(ledger, time.Millisecond, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
