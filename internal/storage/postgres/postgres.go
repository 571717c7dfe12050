// Package postgres is the alternate mute store for deployments that keep
// their data in PostgreSQL. Each Save replaces the whole table, so one bot
// process owns the table at a time.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"guardian/internal/mute"
)

const schema = `
CREATE TABLE IF NOT EXISTS mutes (
	guild_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	expires_at TEXT,
	reason TEXT NOT NULL DEFAULT '',
	moderator_id TEXT NOT NULL DEFAULT '',
	role_id TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (guild_id, member_id)
);
ALTER TABLE mutes ADD COLUMN IF NOT EXISTS role_id TEXT NOT NULL DEFAULT ''`

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) ([]mute.StoredRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT guild_id, member_id, COALESCE(expires_at, ''), reason, moderator_id, role_id
		FROM mutes
		ORDER BY guild_id, member_id
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mute.StoredRecord, error) {
		var record mute.StoredRecord
		err := row.Scan(&record.GuildID, &record.MemberID, &record.ExpiresAt, &record.Reason, &record.ModeratorID, &record.RoleID)
		return record, err
	})
}

// Save replaces the table contents with records in one transaction.
func (s *Store) Save(ctx context.Context, records []mute.StoredRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mutes`); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, record := range records {
			var expiresAt *string
			if record.ExpiresAt != "" {
				value := record.ExpiresAt
				expiresAt = &value
			}
			batch.Queue(`
				INSERT INTO mutes (guild_id, member_id, expires_at, reason, moderator_id, role_id)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, record.GuildID, record.MemberID, expiresAt, record.Reason, record.ModeratorID, record.RoleID)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
