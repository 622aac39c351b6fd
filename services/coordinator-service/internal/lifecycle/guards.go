package lifecycle

import (
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

// Transition guards. Pure checks over the current row; callers hold the
// row lock, so a passing guard stays valid until commit.

func CanAssign(a model.Appointment) error {
	if a.Status != model.StatusPending {
		return model.ErrInvalidTransition
	}
	return nil
}

// CanReassign permits swapping specialists only while the appointment is
// approved and its scheduled time has not passed.
func CanReassign(a model.Appointment, now time.Time) error {
	if a.Status != model.StatusApproved || a.ScheduledTime == nil {
		return model.ErrInvalidTransition
	}
	if !a.ScheduledTime.After(now) {
		return model.ErrInvalidTransition
	}
	return nil
}

func CanCancel(a model.Appointment) error {
	if a.Status.Terminal() {
		return model.ErrInvalidTransition
	}
	return nil
}

// CanComplete restricts completion to the assigned specialist while the
// appointment is approved.
func CanComplete(a model.Appointment, specialistID int64) error {
	if a.Status != model.StatusApproved {
		return model.ErrInvalidTransition
	}
	if a.SpecialistID == nil || *a.SpecialistID != specialistID {
		return model.ErrInvalidTransition
	}
	return nil
}

func CanConfirmReady(a model.Appointment) error {
	if a.Status != model.StatusApproved {
		return model.ErrInvalidTransition
	}
	return nil
}

// AlreadyReady reports whether the party's flag is set; confirming twice
// is a no-op, not an error.
func AlreadyReady(a model.Appointment, party model.Party) bool {
	if party == model.PartySpecialist {
		return a.SpecialistReady
	}
	return a.ClientReady
}
