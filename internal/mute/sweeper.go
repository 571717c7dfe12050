package mute

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultSweepInterval = 20 * time.Second

// ExpireFunc reverses whatever external state represented the mute.
type ExpireFunc func(ctx context.Context, record Record) error

type Outcome struct {
	Record Record
	Err    error
}

type Report struct {
	Outcomes []Outcome
	FlushErr error
}

func (r Report) Failed() int {
	failed := 0
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	return failed
}

func (r Report) Err() error {
	var err error
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			err = multierr.Append(err, fmt.Errorf("expire %s/%s: %w", outcome.Record.GuildID, outcome.Record.MemberID, outcome.Err))
		}
	}
	if r.FlushErr != nil {
		err = multierr.Append(err, fmt.Errorf("flush: %w", r.FlushErr))
	}
	return err
}

type Sweeper struct {
	ledger   *Ledger
	onExpire ExpireFunc
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(ledger *Ledger, interval time.Duration, onExpire ExpireFunc, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{ledger: ledger, onExpire: onExpire, interval: interval, logger: logger}
}

func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Run ticks until ctx is cancelled. The period is fixed and not drift-corrected.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

func (s *Sweeper) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sweepPanicCount.Inc()
			s.logger.Error("mute sweep panicked", zap.Any("panic", r))
		}
	}()

	report := s.Tick(ctx)
	if err := report.Err(); err != nil {
		s.logger.Warn("mute sweep finished with errors", zap.Int("expired", len(report.Outcomes)), zap.Int("failed", report.Failed()), zap.Error(err))
	}
}

// Tick runs one sweep. Removal is committed before any callback runs, so a
// failing callback never leaves the record behind.
func (s *Sweeper) Tick(ctx context.Context) Report {
	sweepCount.Inc()
	expired := s.ledger.Sweep(s.ledger.clock.Now())

	report := Report{Outcomes: make([]Outcome, 0, len(expired))}
	for _, record := range expired {
		outcome := Outcome{Record: record}
		if s.onExpire != nil {
			outcome.Err = s.callExpire(ctx, record)
		}
		if outcome.Err != nil {
			expiryCount.WithLabelValues("failed").Inc()
		} else {
			expiryCount.WithLabelValues("ok").Inc()
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	report.FlushErr = s.ledger.Flush(ctx)
	activeMutes.Set(float64(s.ledger.Len()))
	return report
}

func (s *Sweeper) callExpire(ctx context.Context, record Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("expire callback panicked: %v", r)
		}
	}()
	return s.onExpire(ctx, record)
}
