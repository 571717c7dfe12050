package storage

import (
	"context"
	"testing"
	"time"

	"guardian/internal/mute"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestUpsertGuildSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings := GuildSettings{
		GuildID:           "g1",
		ModRoleID:         "r1",
		MutedRoleName:     "Muted",
		AlertChannelID:    "c1",
		AntiLink:          true,
		AntiRaid:          false,
		RaidJoins:         8,
		RaidWindowSeconds: 15,
	}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert guild settings: %v", err)
	}

	settings.AlertChannelID = "c2"
	settings.AntiRaid = true
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("update guild settings: %v", err)
	}

	got, err := store.GetGuildSettings(ctx, "g1", GuildSettings{})
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.AlertChannelID != "c2" {
		t.Fatalf("expected channel c2, got %q", got.AlertChannelID)
	}
	if !got.AntiLink || !got.AntiRaid {
		t.Fatalf("expected anti-link and anti-raid enabled, got %+v", got)
	}
	if got.RaidJoins != 8 || got.RaidWindowSeconds != 15 {
		t.Fatalf("unexpected raid thresholds %d/%d", got.RaidJoins, got.RaidWindowSeconds)
	}
}

func TestGetGuildSettingsDefaults(t *testing.T) {
	store := newTestStore(t)

	defaults := GuildSettings{MutedRoleName: "Silenced", RaidJoins: 5, RaidWindowSeconds: 60}
	got, err := store.GetGuildSettings(context.Background(), "unknown", defaults)
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.GuildID != "unknown" || got.MutedRoleName != "Silenced" || got.RaidJoins != 5 {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestMuteSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	snapshot := store.Mutes()

	records := []mute.StoredRecord{
		{GuildID: "9", MemberID: "1", ExpiresAt: "2024-01-01T00:10:00Z", Reason: "spam", ModeratorID: "m"},
		{GuildID: "9", MemberID: "2", Reason: "indefinite"},
	}
	if err := snapshot.Save(ctx, records); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := snapshot.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(loaded))
	}
	if loaded[0].ExpiresAt != "2024-01-01T00:10:00Z" || loaded[0].Reason != "spam" {
		t.Fatalf("unexpected first record %+v", loaded[0])
	}
	if loaded[1].ExpiresAt != "" {
		t.Fatalf("expected indefinite mute, got %q", loaded[1].ExpiresAt)
	}

	// a later snapshot replaces the earlier one
	if err := snapshot.Save(ctx, records[1:]); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err = snapshot.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].MemberID != "2" {
		t.Fatalf("expected only member 2, got %+v", loaded)
	}
}

func TestMuteSnapshotFeedsLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ledger := mute.NewLedger(store.Mutes())
	ledger.Mute("9", "1", 10*time.Minute, mute.Details{Reason: "spam", ModeratorID: "m", RoleID: "r9"})
	ledger.Mute("9", "2", 0, mute.Details{ModeratorID: "m"})
	if err := ledger.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	restored := mute.NewLedger(store.Mutes())
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("expected 2 restored mutes, got %d", restored.Len())
	}
	record, ok := restored.Get("9", "2")
	if !ok || !record.Indefinite() {
		t.Fatalf("expected indefinite mute for member 2, got %+v", record)
	}
	record, ok = restored.Get("9", "1")
	if !ok || record.RoleID != "r9" {
		t.Fatalf("expected muted role id to survive a reload, got %+v", record)
	}
}

func TestLockedGuilds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, settings := range []GuildSettings{
		{GuildID: "g2", MutedRoleName: "Muted", LockdownEnabled: true},
		{GuildID: "g1", MutedRoleName: "Muted", LockdownEnabled: true},
		{GuildID: "g3", MutedRoleName: "Muted"},
	} {
		if err := store.UpsertGuildSettings(ctx, settings); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	guilds, err := store.LockedGuilds(ctx)
	if err != nil {
		t.Fatalf("locked guilds: %v", err)
	}
	if len(guilds) != 2 || guilds[0] != "g1" || guilds[1] != "g2" {
		t.Fatalf("unexpected locked guilds %v", guilds)
	}
}

func TestWarnings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for i, reason := range []string{"spam", "caps"} {
		count, err := store.AddWarning(ctx, Warning{
			GuildID:     "g1",
			MemberID:    "u1",
			Reason:      reason,
			ModeratorID: "m1",
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("add warning: %v", err)
		}
		if count != i+1 {
			t.Fatalf("expected count %d, got %d", i+1, count)
		}
	}

	warnings, err := store.ListWarnings(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list warnings: %v", err)
	}
	if len(warnings) != 2 || warnings[0].Reason != "spam" || warnings[1].Reason != "caps" {
		t.Fatalf("unexpected warnings %+v", warnings)
	}

	other, err := store.ListWarnings(ctx, "g2", "u1")
	if err != nil {
		t.Fatalf("list warnings: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("warnings leaked across guilds: %+v", other)
	}

	cleared, err := store.ClearWarnings(ctx, "g1", "u1")
	if err != nil || !cleared {
		t.Fatalf("expected warnings cleared, got %v %v", cleared, err)
	}
	cleared, err = store.ClearWarnings(ctx, "g1", "u1")
	if err != nil || cleared {
		t.Fatalf("expected nothing to clear, got %v %v", cleared, err)
	}
}

func TestAuditLogsAndCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := AuditLog{GuildID: "g1", UserID: "u1", Level: "info", Event: "mute", Details: "old", CreatedAt: time.Now().AddDate(0, 0, -40)}
	recent := AuditLog{GuildID: "g1", UserID: "u1", Level: "info", Event: "ban", Details: "recent", CreatedAt: time.Now()}
	for _, log := range []AuditLog{old, recent} {
		if err := store.AddAuditLog(ctx, log); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	if err := store.CleanupAuditLogs(ctx, 30); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	logs, err := store.ListAuditLogs(ctx, "g1", time.Now().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "ban" {
		t.Fatalf("expected only the recent log, got %+v", logs)
	}
}

func TestDomainAllowlist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddDomainAllow(ctx, "g1", "Example.COM"); err != nil {
		t.Fatalf("add domain: %v", err)
	}
	if err := store.AddDomainAllow(ctx, "g1", "example.com"); err != nil {
		t.Fatalf("add duplicate domain: %v", err)
	}
	domains, err := store.ListDomainAllow(ctx, "g1")
	if err != nil {
		t.Fatalf("list domains: %v", err)
	}
	if len(domains) != 1 || domains[0] != "example.com" {
		t.Fatalf("unexpected domains %v", domains)
	}

	if err := store.RemoveDomainAllow(ctx, "g1", "EXAMPLE.com"); err != nil {
		t.Fatalf("remove domain: %v", err)
	}
	domains, _ = store.ListDomainAllow(ctx, "g1")
	if len(domains) != 0 {
		t.Fatalf("expected empty allowlist, got %v", domains)
	}
}
