package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitri-ops/apptcoord/libs/db"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/blacklist"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/notify"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/rank"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/slots"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/storage"
)

// Service owns every foreground mutation of an appointment. Each
// operation runs in one transaction holding the appointment row lock, so
// user actions serialize with the background scans.
type Service struct {
	pool        *db.Pool
	appts       *storage.AppointmentRepository
	specialists *storage.SpecialistRepository
	clients     *storage.ClientRepository
	blocks      *storage.BlacklistRepository
	ledger      *storage.Ledger
	cache       *blacklist.Cache
	allocator   *slots.Allocator
	notifier    *notify.Notifier
	logger      *slog.Logger
	now         func() time.Time
}

type Deps struct {
	Pool         *db.Pool
	Appointments *storage.AppointmentRepository
	Specialists  *storage.SpecialistRepository
	Clients      *storage.ClientRepository
	Blacklist    *storage.BlacklistRepository
	Ledger       *storage.Ledger
	Cache        *blacklist.Cache
	Allocator    *slots.Allocator
	Notifier     *notify.Notifier
	Logger       *slog.Logger
	Now          func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		pool:        d.Pool,
		appts:       d.Appointments,
		specialists: d.Specialists,
		clients:     d.Clients,
		blocks:      d.Blacklist,
		ledger:      d.Ledger,
		cache:       d.Cache,
		allocator:   d.Allocator,
		notifier:    d.Notifier,
		logger:      d.Logger,
		now:         d.Now,
	}
}

type SubmitInput struct {
	ClientID     int64
	ProposedDate time.Time
	Complex      string
	Reason       string
}

// Submit creates a pending appointment after the blacklist intake check.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (model.Appointment, error) {
	client, err := s.clients.Get(ctx, in.ClientID)
	if err != nil {
		return model.Appointment{}, err
	}

	blocked, err := s.isBlocked(ctx, client.ChatID)
	if err != nil {
		return model.Appointment{}, err
	}
	if blocked {
		return model.Appointment{}, model.ErrBlacklisted
	}

	id, err := s.appts.Create(ctx, model.Appointment{
		ClientID:     in.ClientID,
		ProposedDate: in.ProposedDate,
		Complex:      in.Complex,
		Reason:       in.Reason,
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.notifier.AdminAlert(ctx, fmt.Sprintf("New appointment #%d from %s: %s", id, client.FullName, in.Reason))
	return s.appts.Get(ctx, id)
}

func (s *Service) isBlocked(ctx context.Context, chatID int64) (bool, error) {
	if s.cache != nil {
		if hit, err := s.cache.IsBlocked(ctx, chatID); err == nil && hit {
			return true, nil
		} else if err != nil {
			s.logger.Warn("blacklist cache check failed, falling back to store", "err", err)
		}
	}
	entry, active, err := s.blocks.Active(ctx, chatID, s.now())
	if err != nil {
		return false, err
	}
	if active && s.cache != nil {
		if err := s.cache.Block(ctx, chatID, entry.BlockedUntil); err != nil {
			s.logger.Warn("blacklist cache backfill failed", "err", err)
		}
	}
	return active, nil
}

// Assign approves a pending appointment onto a specialist's slot. The
// conflict check runs while the specialist's approved calendar is locked.
func (s *Service) Assign(ctx context.Context, appointmentID, specialistID int64, at time.Time) (model.Appointment, error) {
	if !s.allocator.Contains(at) {
		return model.Appointment{}, model.ErrOutsideHours
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if err := CanAssign(a); err != nil {
			return err
		}
		if _, err := s.specialists.GetForUpdate(ctx, tx, specialistID); err != nil {
			return err
		}
		calendar, err := s.appts.ListApprovedBySpecialistForUpdate(ctx, tx, specialistID)
		if err != nil {
			return err
		}
		if taken, conflictID := slots.Occupied(at, calendar); taken {
			return fmt.Errorf("%w: appointment %d", model.ErrSlotConflict, conflictID)
		}
		return s.appts.Approve(ctx, tx, appointmentID, specialistID, at)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.notifyAssignment(ctx, appointmentID, false)
	return s.appts.Get(ctx, appointmentID)
}

// Reassign swaps the specialist while the appointment is unexpired. The
// readiness handshake restarts: both flags drop and the appointment's
// notification records are cleared so the reminder kinds can fire again.
func (s *Service) Reassign(ctx context.Context, appointmentID, newSpecialistID int64) (model.Appointment, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if err := CanReassign(a, s.now()); err != nil {
			return err
		}
		if _, err := s.specialists.GetForUpdate(ctx, tx, newSpecialistID); err != nil {
			return err
		}
		calendar, err := s.appts.ListApprovedBySpecialistForUpdate(ctx, tx, newSpecialistID)
		if err != nil {
			return err
		}
		if taken, conflictID := slots.Occupied(*a.ScheduledTime, calendar); taken && conflictID != appointmentID {
			return fmt.Errorf("%w: appointment %d", model.ErrSlotConflict, conflictID)
		}
		if err := s.appts.Reassign(ctx, tx, appointmentID, newSpecialistID); err != nil {
			return err
		}
		return s.ledger.DeleteForAppointment(ctx, tx, appointmentID)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.notifyAssignment(ctx, appointmentID, true)
	return s.appts.Get(ctx, appointmentID)
}

// Cancel terminates a pending or approved appointment. Terminal records
// keep their fields; only the status and reject reason change.
func (s *Service) Cancel(ctx context.Context, appointmentID int64, reason string) (model.Appointment, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if err := CanCancel(a); err != nil {
			return err
		}
		if err := s.appts.Cancel(ctx, tx, appointmentID, reason); err != nil {
			return err
		}
		return s.ledger.DeleteForAppointment(ctx, tx, appointmentID)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	if detail, derr := s.appts.GetDetail(ctx, appointmentID); derr == nil {
		if nerr := s.notifier.Canceled(ctx, detail, reason); nerr != nil {
			s.logger.Error("cancellation notice delivery failed", "err", nerr, "appointment_id", appointmentID)
			s.notifier.AdminAlert(ctx, fmt.Sprintf("Could not deliver cancellation notice for appointment #%d.", appointmentID))
		}
	}
	return s.appts.Get(ctx, appointmentID)
}

// Complete closes an approved appointment. The specialist's counter and
// rank update in the same transaction; the rank is recomputed exactly
// once per completion.
func (s *Service) Complete(ctx context.Context, appointmentID, specialistID int64) (model.Appointment, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if err := CanComplete(a, specialistID); err != nil {
			return err
		}
		if err := s.appts.Complete(ctx, tx, appointmentID); err != nil {
			return err
		}
		completed, err := s.specialists.IncrementCompleted(ctx, tx, specialistID)
		if err != nil {
			return err
		}
		return s.specialists.SetRank(ctx, tx, specialistID, rank.ForCompleted(completed))
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return s.appts.Get(ctx, appointmentID)
}

// ConfirmReady sets one side of the readiness handshake. Re-confirming
// is a no-op: the current state comes back and nothing is re-sent.
func (s *Service) ConfirmReady(ctx context.Context, appointmentID int64, party model.Party) (model.Appointment, error) {
	var noop bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if err := CanConfirmReady(a); err != nil {
			return err
		}
		if AlreadyReady(a, party) {
			noop = true
			return nil
		}
		if err := s.appts.SetReady(ctx, tx, appointmentID, party); err != nil {
			return err
		}
		if party == model.PartySpecialist && a.SpecialistID != nil {
			return s.specialists.SetAvailability(ctx, tx, *a.SpecialistID, true)
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}

	if !noop {
		if detail, derr := s.appts.GetDetail(ctx, appointmentID); derr == nil {
			if nerr := s.notifier.ReadyConfirmed(ctx, detail, party); nerr != nil {
				s.logger.Error("readiness notice delivery failed", "err", nerr, "appointment_id", appointmentID)
			}
		}
	}
	return s.appts.Get(ctx, appointmentID)
}

// RateClient records a star rating; only completed appointments count.
func (s *Service) RateClient(ctx context.Context, appointmentID int64, stars int) error {
	if stars < 1 || stars > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", model.ErrInvalidTransition)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		a, err := s.appts.GetForUpdate(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != model.StatusCompleted {
			return model.ErrInvalidTransition
		}
		return s.clients.AddRating(ctx, tx, a.ClientID, stars)
	})
}

func (s *Service) notifyAssignment(ctx context.Context, appointmentID int64, reassigned bool) {
	detail, err := s.appts.GetDetail(ctx, appointmentID)
	if err != nil {
		s.logger.Error("assignment detail fetch failed", "err", err, "appointment_id", appointmentID)
		return
	}

	if reassigned {
		err = s.notifier.Reassigned(ctx, detail)
	} else {
		err = s.notifier.Assigned(ctx, detail)
	}
	if err != nil {
		s.logger.Error("assignment notice delivery failed", "err", err, "appointment_id", appointmentID)
		s.notifier.AdminAlert(ctx, fmt.Sprintf("Could not notify specialist about appointment #%d.", appointmentID))
		if detail.Specialist != nil {
			s.markSpecialistUnavailable(ctx, detail.Specialist.ID)
		}
	}
}

// markSpecialistUnavailable flags an unreachable specialist so the admin
// stops assigning to them until they confirm readiness again.
func (s *Service) markSpecialistUnavailable(ctx context.Context, specialistID int64) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		return s.specialists.SetAvailability(ctx, tx, specialistID, false)
	})
	if err != nil {
		s.logger.Error("availability downgrade failed", "err", err, "specialist_id", specialistID)
	}
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
