package analytics

import (
	"context"
	"testing"
	"time"

	"guardian/internal/storage"
)

func TestReportCountsEvents(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	for _, event := range []string{"mute", "ban", "mute", "warn"} {
		if err := store.AddAuditLog(ctx, storage.AuditLog{GuildID: "g1", UserID: "u1", Level: "INFO", Event: event, CreatedAt: now}); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}
	if err := store.AddAuditLog(ctx, storage.AuditLog{GuildID: "g2", Level: "INFO", Event: "ban", CreatedAt: now}); err != nil {
		t.Fatalf("add audit log: %v", err)
	}

	since := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	report, err := New(store).Report(ctx, "g1", since)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 4 || report.ByEvent["mute"] != 2 || report.ByLevel["INFO"] != 4 {
		t.Fatalf("unexpected report %+v", report)
	}

	want := "4 events since 2024-01-02\n• mute: 2\n• ban: 1\n• warn: 1"
	if got := report.Format(); got != want {
		t.Fatalf("unexpected format:\n%s", got)
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := (Report{}).Format(); got != "No moderation events in this period." {
		t.Fatalf("unexpected empty format %q", got)
	}
}
