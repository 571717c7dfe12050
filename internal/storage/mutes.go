package storage

import (
	"context"
	"database/sql"

	"guardian/internal/mute"
)

// MuteSnapshot persists the mute ledger as a whole snapshot per Save.
type MuteSnapshot struct {
	store *Store
}

func (s *Store) Mutes() *MuteSnapshot {
	return &MuteSnapshot{store: s}
}

func (m *MuteSnapshot) Load(ctx context.Context) ([]mute.StoredRecord, error) {
	rows, err := m.store.db.QueryContext(ctx, `
		SELECT guild_id, member_id, expires_at, reason, moderator_id, role_id
		FROM mutes
		ORDER BY guild_id, member_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []mute.StoredRecord
	for rows.Next() {
		var record mute.StoredRecord
		var expiresAt sql.NullString
		if err := rows.Scan(&record.GuildID, &record.MemberID, &expiresAt, &record.Reason, &record.ModeratorID, &record.RoleID); err != nil {
			return nil, err
		}
		record.ExpiresAt = expiresAt.String
		records = append(records, record)
	}
	return records, rows.Err()
}

func (m *MuteSnapshot) Save(ctx context.Context, records []mute.StoredRecord) (err error) {
	tx, err := m.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM mutes`); err != nil {
		return err
	}
	for _, record := range records {
		var expiresAt any
		if record.ExpiresAt != "" {
			expiresAt = record.ExpiresAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO mutes (guild_id, member_id, expires_at, reason, moderator_id, role_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, record.GuildID, record.MemberID, expiresAt, record.Reason, record.ModeratorID, record.RoleID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
