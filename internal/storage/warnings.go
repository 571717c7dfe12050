package storage

import (
	"context"
	"time"
)

type Warning struct {
	ID          int64
	GuildID     string
	MemberID    string
	Reason      string
	ModeratorID string
	CreatedAt   time.Time
}

func (s *Store) AddWarning(ctx context.Context, warning Warning) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO warnings (guild_id, member_id, reason, moderator_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, warning.GuildID, warning.MemberID, warning.Reason, warning.ModeratorID, warning.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}

	var count int
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND member_id = ?`, warning.GuildID, warning.MemberID)
	if err = row.Scan(&count); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListWarnings(ctx context.Context, guildID, memberID string) ([]Warning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, member_id, reason, moderator_id, created_at
		FROM warnings
		WHERE guild_id = ? AND member_id = ?
		ORDER BY created_at, id
	`, guildID, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warnings []Warning
	for rows.Next() {
		var warning Warning
		var created int64
		if err := rows.Scan(&warning.ID, &warning.GuildID, &warning.MemberID, &warning.Reason, &warning.ModeratorID, &created); err != nil {
			return nil, err
		}
		warning.CreatedAt = time.Unix(created, 0).UTC()
		warnings = append(warnings, warning)
	}
	return warnings, rows.Err()
}

// ClearWarnings reports whether the member had any warnings to clear.
func (s *Store) ClearWarnings(ctx context.Context, guildID, memberID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM warnings WHERE guild_id = ? AND member_id = ?`, guildID, memberID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
