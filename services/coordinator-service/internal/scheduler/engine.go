package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/blacklist"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/notify"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/rank"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/storage"
)

type Config struct {
	ReminderInterval  time.Duration
	LatenessInterval  time.Duration
	RankResetInterval time.Duration
	LatenessLookback  time.Duration
	NoShowBlock       time.Duration
	LedgerGrace       time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = time.Minute
	}
	if c.LatenessInterval <= 0 {
		c.LatenessInterval = 30 * time.Second
	}
	if c.RankResetInterval <= 0 {
		c.RankResetInterval = time.Hour
	}
	if c.LatenessLookback <= 0 {
		c.LatenessLookback = 24 * time.Hour
	}
	if c.NoShowBlock <= 0 {
		c.NoShowBlock = 14 * 24 * time.Hour
	}
	if c.LedgerGrace <= 0 {
		c.LedgerGrace = 24 * time.Hour
	}
}

// Engine drives the background scans: reminders, lateness escalation and
// the annual rank reset. Every decision commits together with its ledger
// record, so concurrent engine replicas fire each kind at most once.
type Engine struct {
	cfg         Config
	pool        *db.Pool
	appts       *storage.AppointmentRepository
	specialists *storage.SpecialistRepository
	blocks      *storage.BlacklistRepository
	ledger      *storage.Ledger
	cache       *blacklist.Cache
	notifier    *notify.Notifier
	logger      *slog.Logger
	now         func() time.Time
}

type Deps struct {
	Pool         *db.Pool
	Appointments *storage.AppointmentRepository
	Specialists  *storage.SpecialistRepository
	Blacklist    *storage.BlacklistRepository
	Ledger       *storage.Ledger
	Cache        *blacklist.Cache
	Notifier     *notify.Notifier
	Logger       *slog.Logger
	Now          func() time.Time
}

func NewEngine(cfg Config, d Deps) *Engine {
	cfg.applyDefaults()
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		cfg:         cfg,
		pool:        d.Pool,
		appts:       d.Appointments,
		specialists: d.Specialists,
		blocks:      d.Blacklist,
		ledger:      d.Ledger,
		cache:       d.Cache,
		notifier:    d.Notifier,
		logger:      d.Logger,
		now:         d.Now,
	}
}

// Run blocks until ctx is canceled, driving all three scans on their own
// tickers.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("scheduler engine starting",
		"reminder_interval", e.cfg.ReminderInterval.String(),
		"lateness_interval", e.cfg.LatenessInterval.String(),
	)

	go e.loop(ctx, e.cfg.LatenessInterval, "lateness", e.RunLatenessScan)
	go e.loop(ctx, e.cfg.RankResetInterval, "rank_reset", e.RunRankResetScan)
	e.loop(ctx, e.cfg.ReminderInterval, "reminder", e.RunReminderScan)
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, name string, scan func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("scan loop stopped", "scan", name)
			return
		case <-ticker.C:
			if err := scan(ctx); err != nil {
				e.logger.Error("scan failed", "scan", name, "err", err)
			}
		}
	}
}

// RunReminderScan walks approved appointments near their start time and
// fires any reminder kind inside its window that has not fired yet.
func (e *Engine) RunReminderScan(ctx context.Context) error {
	now := e.now()
	feed, err := e.appts.ListDueDetails(ctx, now.Add(-time.Minute), now.Add(oneHourWindow))
	if err != nil {
		return fmt.Errorf("reminder feed: %w", err)
	}

	for _, d := range feed {
		if d.Appointment.ScheduledTime == nil {
			continue
		}
		for _, kind := range DueKinds(*d.Appointment.ScheduledTime, now) {
			if err := e.fireReminder(ctx, d, kind); err != nil {
				e.logger.Error("reminder fire failed", "err", err,
					"appointment_id", d.Appointment.ID, "kind", kind)
			}
		}
	}

	purged, err := e.ledger.PurgeStale(ctx, now, e.cfg.LedgerGrace)
	if err != nil {
		return fmt.Errorf("ledger purge: %w", err)
	}
	if purged > 0 {
		e.logger.Info("purged stale notification records", "count", purged)
	}
	return nil
}

// fireReminder claims one kind for one appointment. The row lock plus the
// ledger re-check make the claim exclusive; the record commits even when
// delivery fails afterwards, since retrying a reminder the recipient may
// already have seen is worse than dropping it.
func (e *Engine) fireReminder(ctx context.Context, d model.AppointmentDetail, kind string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := d.Appointment.ID
	a, err := e.appts.GetForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if a.Status != model.StatusApproved || a.ScheduledTime == nil ||
		!a.ScheduledTime.Equal(*d.Appointment.ScheduledTime) {
		// Changed since the feed query: canceled, completed or moved.
		return nil
	}
	fired, err := e.ledger.HasFired(ctx, tx, id, kind)
	if err != nil {
		return err
	}
	if fired {
		return nil
	}
	if err := e.ledger.RecordFired(ctx, tx, id, kind); err != nil {
		if errors.Is(err, model.ErrDuplicateFire) {
			return nil
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	d.Appointment = a
	e.deliverReminder(ctx, d, kind)
	return nil
}

func (e *Engine) deliverReminder(ctx context.Context, d model.AppointmentDetail, kind string) {
	// A party that already confirmed readiness is left alone.
	if !d.Appointment.ClientReady {
		if err := e.notifier.ReminderClient(ctx, d, kind); err != nil {
			e.logger.Error("client reminder delivery failed", "err", err,
				"appointment_id", d.Appointment.ID, "kind", kind)
			e.notifier.AdminAlert(ctx, fmt.Sprintf(
				"Could not deliver %s reminder to client for appointment #%d.", kind, d.Appointment.ID))
		}
	}
	if !d.Appointment.SpecialistReady {
		if err := e.notifier.ReminderSpecialist(ctx, d, kind); err != nil {
			e.logger.Error("specialist reminder delivery failed", "err", err,
				"appointment_id", d.Appointment.ID, "kind", kind)
			e.notifier.AdminAlert(ctx, fmt.Sprintf(
				"Could not deliver %s reminder to specialist for appointment #%d.", kind, d.Appointment.ID))
			if d.Specialist != nil {
				e.markSpecialistUnavailable(ctx, d.Specialist.ID)
			}
		}
	}
}

// markSpecialistUnavailable takes an unreachable specialist out of the
// assignable pool until they confirm readiness again.
func (e *Engine) markSpecialistUnavailable(ctx context.Context, specialistID int64) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		e.logger.Error("availability downgrade failed", "err", err, "specialist_id", specialistID)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := e.specialists.SetAvailability(ctx, tx, specialistID, false); err != nil {
		e.logger.Error("availability downgrade failed", "err", err, "specialist_id", specialistID)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.logger.Error("availability downgrade failed", "err", err, "specialist_id", specialistID)
	}
}

// RunLatenessScan handles appointments around and past their start time
// that lack a readiness confirmation: the readiness prompt fires here as
// well as on the coarser reminder ticker, the admin hears about a stalled
// specialist after ten minutes, and an unready client is written off as a
// no-show after twenty. The feed drains itself because no-shows leave the
// approved set.
func (e *Engine) RunLatenessScan(ctx context.Context) error {
	now := e.now()
	feed, err := e.appts.ListDueDetails(ctx, now.Add(-e.cfg.LatenessLookback), now.Add(readyTolerance))
	if err != nil {
		return fmt.Errorf("lateness feed: %w", err)
	}

	for _, d := range feed {
		if d.Appointment.ScheduledTime == nil {
			continue
		}
		plan := planLateness(d.Appointment, d.Specialist != nil && d.Specialist.IsAvailable, now)
		if plan.PromptReady {
			// The ledger keeps the prompt single-shot when the reminder
			// scan catches the same window.
			if err := e.fireReminder(ctx, d, notify.KindReady); err != nil {
				e.logger.Error("readiness prompt failed", "err", err,
					"appointment_id", d.Appointment.ID)
			}
		}
		if plan.Escalate {
			if err := e.escalateSpecialist(ctx, d); err != nil {
				e.logger.Error("specialist escalation failed", "err", err,
					"appointment_id", d.Appointment.ID)
			}
		}
		if plan.NoShow {
			if err := e.cancelNoShow(ctx, d, now); err != nil {
				e.logger.Error("no-show cancellation failed", "err", err,
					"appointment_id", d.Appointment.ID)
			}
		}
	}
	return nil
}

// escalateSpecialist raises the admin_no_ready kind once per appointment.
func (e *Engine) escalateSpecialist(ctx context.Context, d model.AppointmentDetail) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := d.Appointment.ID
	a, err := e.appts.GetForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if a.Status != model.StatusApproved || a.SpecialistReady {
		return nil
	}
	if err := e.ledger.RecordFired(ctx, tx, id, notify.KindAdminNoReady); err != nil {
		if errors.Is(err, model.ErrDuplicateFire) {
			return nil
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if err := e.notifier.AdminNoReady(ctx, d); err != nil {
		e.logger.Error("admin escalation delivery failed", "err", err, "appointment_id", id)
	}
	return nil
}

// cancelNoShow cancels the appointment and blocks the client, all in one
// transaction; notices and the redis mirror follow best-effort.
func (e *Engine) cancelNoShow(ctx context.Context, d model.AppointmentDetail, now time.Time) error {
	blockedUntil := now.Add(e.cfg.NoShowBlock)

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := d.Appointment.ID
	a, err := e.appts.GetForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	if a.Status != model.StatusApproved || a.ClientReady {
		return nil
	}
	if err := e.appts.Cancel(ctx, tx, id, "no-show: readiness not confirmed"); err != nil {
		return err
	}
	if err := e.blocks.Add(ctx, tx, model.BlacklistEntry{
		ChatID:       d.Client.ChatID,
		Reason:       fmt.Sprintf("no-show on appointment #%d", id),
		BlockedUntil: blockedUntil,
	}); err != nil {
		return err
	}
	if err := e.ledger.DeleteForAppointment(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if e.cache != nil {
		if err := e.cache.Block(ctx, d.Client.ChatID, blockedUntil); err != nil {
			e.logger.Warn("blacklist cache update failed", "err", err, "chat_id", d.Client.ChatID)
		}
	}
	if err := e.notifier.NoShow(ctx, d, blockedUntil); err != nil {
		e.logger.Error("no-show notice delivery failed", "err", err, "appointment_id", id)
	}
	e.notifier.AdminAlert(ctx, fmt.Sprintf(
		"Appointment #%d canceled as a no-show; client %s blocked until %s.",
		id, d.Client.FullName, blockedUntil.Format("02.01.2006 15:04")))
	return nil
}

// RunRankResetScan zeroes every specialist's counter once per calendar
// year. The rank_resets table is seeded with the deployment year, so the
// first claimable year is the next one.
func (e *Engine) RunRankResetScan(ctx context.Context) error {
	year := e.now().Year()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	claimed, err := e.specialists.TryMarkRankReset(ctx, tx, year)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	all, err := e.specialists.ListAll(ctx, tx)
	if err != nil {
		return err
	}
	baseline := rank.Baseline()
	if err := e.specialists.ResetAll(ctx, tx, baseline); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	e.logger.Info("annual rank reset applied", "year", year, "specialists", len(all))
	for _, s := range all {
		if err := e.notifier.RankReset(ctx, s, baseline); err != nil {
			e.logger.Error("rank reset notice delivery failed", "err", err, "specialist_id", s.ID)
		}
	}
	return nil
}
