package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"guardian/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// Format renders the report as one line per event, busiest first.
func (r Report) Format() string {
	if r.Total == 0 {
		return "No moderation events in this period."
	}
	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if r.ByEvent[events[i]] != r.ByEvent[events[j]] {
			return r.ByEvent[events[i]] > r.ByEvent[events[j]]
		}
		return events[i] < events[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%d events since %s\n", r.Total, r.Since.UTC().Format("2006-01-02"))
	for _, event := range events {
		fmt.Fprintf(&b, "• %s: %d\n", event, r.ByEvent[event])
	}
	return strings.TrimRight(b.String(), "\n")
}
