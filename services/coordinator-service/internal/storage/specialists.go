package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

type SpecialistRepository struct {
	pool *db.Pool
}

func NewSpecialistRepository(pool *db.Pool) *SpecialistRepository {
	return &SpecialistRepository{pool: pool}
}

const specialistColumns = `
	id, full_name, COALESCE(username, ''), COALESCE(phone, ''), chat_id,
	is_available, completed_appointments, rank`

func scanSpecialist(row pgx.Row) (model.Specialist, error) {
	var s model.Specialist
	err := row.Scan(
		&s.ID,
		&s.FullName,
		&s.Username,
		&s.Phone,
		&s.ChatID,
		&s.IsAvailable,
		&s.CompletedAppointments,
		&s.Rank,
	)
	return s, err
}

func (r *SpecialistRepository) Get(ctx context.Context, id int64) (model.Specialist, error) {
	s, err := scanSpecialist(r.pool.QueryRow(ctx, `
		SELECT`+specialistColumns+`
		FROM specialists
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Specialist{}, model.ErrNotFound
	}
	return s, err
}

func (r *SpecialistRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Specialist, error) {
	s, err := scanSpecialist(tx.QueryRow(ctx, `
		SELECT`+specialistColumns+`
		FROM specialists
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Specialist{}, model.ErrNotFound
	}
	return s, err
}

func (r *SpecialistRepository) ListAvailable(ctx context.Context) ([]model.Specialist, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+specialistColumns+`
		FROM specialists
		WHERE is_available
		ORDER BY full_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpecialists(rows)
}

func (r *SpecialistRepository) ListAll(ctx context.Context, tx pgx.Tx) ([]model.Specialist, error) {
	rows, err := tx.Query(ctx, `
		SELECT`+specialistColumns+`
		FROM specialists
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSpecialists(rows)
}

// IncrementCompleted bumps the monotonic counter and returns the new
// value so the caller can derive the rank exactly once per completion.
func (r *SpecialistRepository) IncrementCompleted(ctx context.Context, tx pgx.Tx, id int64) (int, error) {
	var completed int
	err := tx.QueryRow(ctx, `
		UPDATE specialists
		SET completed_appointments = completed_appointments + 1
		WHERE id = $1
		RETURNING completed_appointments
	`, id).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.ErrNotFound
	}
	return completed, err
}

func (r *SpecialistRepository) SetRank(ctx context.Context, tx pgx.Tx, id int64, label string) error {
	_, err := tx.Exec(ctx, `
		UPDATE specialists
		SET rank = $2
		WHERE id = $1
	`, id, label)
	return err
}

func (r *SpecialistRepository) SetAvailability(ctx context.Context, tx pgx.Tx, id int64, available bool) error {
	_, err := tx.Exec(ctx, `
		UPDATE specialists
		SET is_available = $2
		WHERE id = $1
	`, id, available)
	return err
}

// ResetAll zeroes every counter and rank; used by the annual reset.
func (r *SpecialistRepository) ResetAll(ctx context.Context, tx pgx.Tx, baseline string) error {
	_, err := tx.Exec(ctx, `
		UPDATE specialists
		SET completed_appointments = 0,
			rank = $1
	`, baseline)
	return err
}

// TryMarkRankReset claims the annual reset for a year. The primary key on
// rank_resets makes the claim idempotent across ticks and restarts.
func (r *SpecialistRepository) TryMarkRankReset(ctx context.Context, tx pgx.Tx, year int) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO rank_resets (year)
		VALUES ($1)
		ON CONFLICT (year) DO NOTHING
	`, year)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func collectSpecialists(rows pgx.Rows) ([]model.Specialist, error) {
	var out []model.Specialist
	for rows.Next() {
		s, err := scanSpecialist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
