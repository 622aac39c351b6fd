package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const appointmentColumns = `
	id, client_id, specialist_id, proposed_date, scheduled_time, status,
	client_ready, specialist_ready, COALESCE(complex, ''), COALESCE(reason, ''),
	COALESCE(reject_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(
		&a.ID,
		&a.ClientID,
		&a.SpecialistID,
		&a.ProposedDate,
		&a.ScheduledTime,
		&status,
		&a.ClientReady,
		&a.SpecialistReady,
		&a.Complex,
		&a.Reason,
		&a.RejectReason,
		&a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	return a, nil
}

func (r *AppointmentRepository) Create(ctx context.Context, a model.Appointment) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (client_id, proposed_date, status, complex, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.ClientID, a.ProposedDate, string(model.StatusPending), a.Complex, a.Reason).Scan(&id)
	return id, err
}

func (r *AppointmentRepository) Get(ctx context.Context, id int64) (model.Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.ErrNotFound
	}
	return a, err
}

// GetForUpdate locks the appointment row for the duration of tx. Every
// mutation path goes through this lock so foreground actions and the
// background scans serialize per appointment.
func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error) {
	a, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.ErrNotFound
	}
	return a, err
}

const detailColumns = appointmentColumns + `,
	c.id, c.full_name, COALESCE(c.phone, ''), COALESCE(c.city, ''), c.chat_id, c.rating, c.rating_count,
	s.id, s.full_name, s.username, s.phone, s.chat_id, s.is_available, s.completed_appointments, s.rank`

func scanDetail(row pgx.Row) (model.AppointmentDetail, error) {
	var d model.AppointmentDetail
	var status string
	var (
		specID        *int64
		specFullName  *string
		specUsername  *string
		specPhone     *string
		specChatID    *int64
		specAvailable *bool
		specCompleted *int
		specRank      *string
	)
	err := row.Scan(
		&d.Appointment.ID,
		&d.Appointment.ClientID,
		&d.Appointment.SpecialistID,
		&d.Appointment.ProposedDate,
		&d.Appointment.ScheduledTime,
		&status,
		&d.Appointment.ClientReady,
		&d.Appointment.SpecialistReady,
		&d.Appointment.Complex,
		&d.Appointment.Reason,
		&d.Appointment.RejectReason,
		&d.Appointment.CreatedAt,
		&d.Client.ID,
		&d.Client.FullName,
		&d.Client.Phone,
		&d.Client.City,
		&d.Client.ChatID,
		&d.Client.Rating,
		&d.Client.RatingCount,
		&specID,
		&specFullName,
		&specUsername,
		&specPhone,
		&specChatID,
		&specAvailable,
		&specCompleted,
		&specRank,
	)
	if err != nil {
		return model.AppointmentDetail{}, err
	}
	d.Appointment.Status = model.Status(status)
	if specID != nil {
		d.Specialist = &model.Specialist{
			ID:                    *specID,
			FullName:              derefString(specFullName),
			Username:              derefString(specUsername),
			Phone:                 derefString(specPhone),
			ChatID:                derefInt64(specChatID),
			IsAvailable:           specAvailable != nil && *specAvailable,
			CompletedAppointments: derefInt(specCompleted),
			Rank:                  derefString(specRank),
		}
	}
	return d, nil
}

// GetDetail fetches the appointment together with both parties in one
// query. Readers never trigger follow-up I/O from a field access.
func (r *AppointmentRepository) GetDetail(ctx context.Context, id int64) (model.AppointmentDetail, error) {
	d, err := scanDetail(r.pool.QueryRow(ctx, `
		SELECT`+detailColumns+`
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
		LEFT JOIN specialists s ON s.id = a.specialist_id
		WHERE a.id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AppointmentDetail{}, model.ErrNotFound
	}
	return d, err
}

type Filter struct {
	Status       model.Status
	SpecialistID int64
	ClientID     int64
	From         time.Time
	To           time.Time
	Limit        int
}

func (r *AppointmentRepository) List(ctx context.Context, f Filter) ([]model.Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE ($1 = '' OR status = $1)
			AND ($2 = 0 OR specialist_id = $2)
			AND ($3 = 0 OR client_id = $3)
			AND ($4::timestamptz IS NULL OR proposed_date >= $4)
			AND ($5::timestamptz IS NULL OR proposed_date <= $5)
		ORDER BY id DESC
		LIMIT $6
	`, string(f.Status), f.SpecialistID, f.ClientID, nullableTime(f.From), nullableTime(f.To), f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// ListApprovedBySpecialistForUpdate locks the specialist's approved
// calendar so the slot-conflict check and the subsequent write happen
// against a stable view.
func (r *AppointmentRepository) ListApprovedBySpecialistForUpdate(ctx context.Context, tx pgx.Tx, specialistID int64) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE specialist_id = $1 AND status = $2
		ORDER BY scheduled_time
		FOR UPDATE
	`, specialistID, string(model.StatusApproved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// ListDueDetails is the scan feed: approved appointments scheduled within
// [from, to], parties included.
func (r *AppointmentRepository) ListDueDetails(ctx context.Context, from, to time.Time) ([]model.AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+detailColumns+`
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
		LEFT JOIN specialists s ON s.id = a.specialist_id
		WHERE a.status = $1 AND a.scheduled_time >= $2 AND a.scheduled_time <= $3
		ORDER BY a.scheduled_time
	`, string(model.StatusApproved), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Approve moves pending -> approved. The status predicate doubles as a
// compare-and-set guard: zero affected rows means the appointment changed
// under a concurrent writer.
func (r *AppointmentRepository) Approve(ctx context.Context, tx pgx.Tx, id, specialistID int64, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			specialist_id = $2,
			scheduled_time = $4,
			reject_reason = '',
			client_ready = false,
			specialist_ready = false
		WHERE id = $1 AND status = $5
	`, id, specialistID, string(model.StatusApproved), at, string(model.StatusPending))
	if err != nil {
		// The partial unique index on (specialist_id, scheduled_time)
		// backstops the in-transaction conflict check.
		if IsUniqueViolation(err) {
			return model.ErrSlotConflict
		}
		return err
	}
	return guardAffected(tag)
}

// Reassign swaps the specialist on an approved appointment and restarts
// the readiness handshake.
func (r *AppointmentRepository) Reassign(ctx context.Context, tx pgx.Tx, id, specialistID int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET specialist_id = $2,
			client_ready = false,
			specialist_ready = false
		WHERE id = $1 AND status = $3
	`, id, specialistID, string(model.StatusApproved))
	if err != nil {
		if IsUniqueViolation(err) {
			return model.ErrSlotConflict
		}
		return err
	}
	return guardAffected(tag)
}

func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			reject_reason = $3
		WHERE id = $1 AND status IN ($4, $5)
	`, id, string(model.StatusCanceled), reason, string(model.StatusPending), string(model.StatusApproved))
	if err != nil {
		return err
	}
	return guardAffected(tag)
}

func (r *AppointmentRepository) Complete(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, string(model.StatusCompleted), string(model.StatusApproved))
	if err != nil {
		return err
	}
	return guardAffected(tag)
}

// SetReady flips one readiness flag. Only legal while approved; flipping a
// flag that is already true is a no-op upstream, not here.
func (r *AppointmentRepository) SetReady(ctx context.Context, tx pgx.Tx, id int64, party model.Party) error {
	column := "client_ready"
	if party == model.PartySpecialist {
		column = "specialist_ready"
	}
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET `+column+` = true
		WHERE id = $1 AND status = $2
	`, id, string(model.StatusApproved))
	if err != nil {
		return err
	}
	return guardAffected(tag)
}

func guardAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt64(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
