package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

// Ledger is the append-only record of which notification kinds already
// fired per appointment. The unique index on (appointment_id, kind) is
// the at-most-once guarantee; RecordFired inside the same transaction as
// the decision is the atomic commit point for racing scans.
type Ledger struct {
	pool *db.Pool
}

func NewLedger(pool *db.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) HasFired(ctx context.Context, tx pgx.Tx, appointmentID int64, kind string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications_sent
			WHERE appointment_id = $1 AND kind = $2
		)
	`, appointmentID, kind).Scan(&exists)
	return exists, err
}

// RecordFired appends the record. A conflicting insert means another scan
// already claimed this kind; the caller gets ErrDuplicateFire and must
// not deliver.
func (l *Ledger) RecordFired(ctx context.Context, tx pgx.Tx, appointmentID int64, kind string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO notifications_sent (appointment_id, kind, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (appointment_id, kind) DO NOTHING
	`, appointmentID, kind, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrDuplicateFire
	}
	return nil
}

// DeleteForAppointment clears the records when the handshake restarts
// (reassignment) or the appointment leaves the live set inside a larger
// transaction.
func (l *Ledger) DeleteForAppointment(ctx context.Context, tx pgx.Tx, appointmentID int64) error {
	_, err := tx.Exec(ctx, `
		DELETE FROM notifications_sent
		WHERE appointment_id = $1
	`, appointmentID)
	return err
}

// PurgeStale drops records whose appointment is no longer approved or
// whose scheduled time is more than the grace window in the past. Bounds
// ledger growth and frees kinds for a future reassignment.
func (l *Ledger) PurgeStale(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM notifications_sent n
		USING appointments a
		WHERE a.id = n.appointment_id
			AND (a.status <> $1 OR a.scheduled_time < $2)
	`, string(model.StatusApproved), now.Add(-grace))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (l *Ledger) ListForAppointment(ctx context.Context, appointmentID int64) ([]model.NotificationRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT appointment_id, kind, sent_at
		FROM notifications_sent
		WHERE appointment_id = $1
		ORDER BY sent_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NotificationRecord
	for rows.Next() {
		var rec model.NotificationRecord
		if err := rows.Scan(&rec.AppointmentID, &rec.Kind, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
