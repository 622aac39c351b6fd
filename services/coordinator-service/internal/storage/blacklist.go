package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

type BlacklistRepository struct {
	pool *db.Pool
}

func NewBlacklistRepository(pool *db.Pool) *BlacklistRepository {
	return &BlacklistRepository{pool: pool}
}

// Add upserts the block: a repeat offense extends the existing entry.
func (r *BlacklistRepository) Add(ctx context.Context, tx pgx.Tx, e model.BlacklistEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO blacklist (chat_id, reason, blocked_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE
		SET reason = EXCLUDED.reason,
			blocked_until = EXCLUDED.blocked_until
	`, e.ChatID, e.Reason, e.BlockedUntil)
	return err
}

func (r *BlacklistRepository) Remove(ctx context.Context, chatID int64) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blacklist
		WHERE chat_id = $1
	`, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Active returns the unexpired entry for a chat id, if any. Expired rows
// are ignored; they age out rather than being deleted eagerly.
func (r *BlacklistRepository) Active(ctx context.Context, chatID int64, now time.Time) (model.BlacklistEntry, bool, error) {
	var e model.BlacklistEntry
	err := r.pool.QueryRow(ctx, `
		SELECT chat_id, reason, blocked_until, created_at
		FROM blacklist
		WHERE chat_id = $1 AND blocked_until > $2
	`, chatID, now).Scan(&e.ChatID, &e.Reason, &e.BlockedUntil, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BlacklistEntry{}, false, nil
	}
	if err != nil {
		return model.BlacklistEntry{}, false, err
	}
	return e, true, nil
}

func (r *BlacklistRepository) ListActive(ctx context.Context, now time.Time) ([]model.BlacklistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT chat_id, reason, blocked_until, created_at
		FROM blacklist
		WHERE blocked_until > $1
		ORDER BY blocked_until
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlacklistEntry
	for rows.Next() {
		var e model.BlacklistEntry
		if err := rows.Scan(&e.ChatID, &e.Reason, &e.BlockedUntil, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
