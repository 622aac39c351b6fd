package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

func appt(status model.Status) model.Appointment {
	return model.Appointment{ID: 1, Status: status}
}

func TestCanAssign(t *testing.T) {
	if err := CanAssign(appt(model.StatusPending)); err != nil {
		t.Fatalf("pending should be assignable: %v", err)
	}
	for _, st := range []model.Status{model.StatusApproved, model.StatusCompleted, model.StatusCanceled} {
		if err := CanAssign(appt(st)); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("CanAssign(%s) = %v, want ErrInvalidTransition", st, err)
		}
	}
}

func TestCanReassign(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	a := appt(model.StatusApproved)
	a.ScheduledTime = &future
	if err := CanReassign(a, now); err != nil {
		t.Fatalf("approved future appointment should be reassignable: %v", err)
	}

	a.ScheduledTime = &past
	if err := CanReassign(a, now); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expired appointment must not be reassignable, got %v", err)
	}

	b := appt(model.StatusPending)
	b.ScheduledTime = &future
	if err := CanReassign(b, now); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("pending appointment must not be reassignable, got %v", err)
	}
}

func TestCanCancel_TerminalStatesAreSinks(t *testing.T) {
	if err := CanCancel(appt(model.StatusPending)); err != nil {
		t.Fatalf("pending should be cancelable: %v", err)
	}
	if err := CanCancel(appt(model.StatusApproved)); err != nil {
		t.Fatalf("approved should be cancelable: %v", err)
	}
	for _, st := range []model.Status{model.StatusCompleted, model.StatusCanceled} {
		if err := CanCancel(appt(st)); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("CanCancel(%s) = %v, want ErrInvalidTransition", st, err)
		}
	}
}

func TestCanComplete(t *testing.T) {
	specID := int64(5)
	a := appt(model.StatusApproved)
	a.SpecialistID = &specID

	if err := CanComplete(a, 5); err != nil {
		t.Fatalf("assigned specialist should complete: %v", err)
	}
	if err := CanComplete(a, 6); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("another specialist must not complete, got %v", err)
	}

	b := appt(model.StatusPending)
	b.SpecialistID = &specID
	if err := CanComplete(b, 5); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("completing a pending appointment must fail, got %v", err)
	}

	c := appt(model.StatusApproved)
	if err := CanComplete(c, 5); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("completing without an assigned specialist must fail, got %v", err)
	}
}

func TestCanConfirmReady(t *testing.T) {
	if err := CanConfirmReady(appt(model.StatusApproved)); err != nil {
		t.Fatalf("approved should accept readiness: %v", err)
	}
	for _, st := range []model.Status{model.StatusPending, model.StatusCompleted, model.StatusCanceled} {
		if err := CanConfirmReady(appt(st)); !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("CanConfirmReady(%s) = %v, want ErrInvalidTransition", st, err)
		}
	}
}

func TestAlreadyReady(t *testing.T) {
	a := appt(model.StatusApproved)
	a.ClientReady = true
	if !AlreadyReady(a, model.PartyClient) {
		t.Fatal("client flag set but AlreadyReady false")
	}
	if AlreadyReady(a, model.PartySpecialist) {
		t.Fatal("specialist flag unset but AlreadyReady true")
	}
}
