package audit

import (
	"context"
	"testing"
	"time"

	"guardian/internal/storage"

	"go.uber.org/zap"
)

func TestLogPersistsAndNotifies(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := NewLogger(store, zap.NewNop())
	var notified []storage.AuditLog
	logger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
		notified = append(notified, entry)
	})

	ctx := context.Background()
	logger.Log(ctx, LevelWarn, "g1", "u1", EventMute, "minutes=10")

	if len(notified) != 1 || notified[0].Event != EventMute {
		t.Fatalf("expected one mute notification, got %+v", notified)
	}
	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Details != "minutes=10" || logs[0].Level != LevelWarn {
		t.Fatalf("unexpected audit logs %+v", logs)
	}
}
