package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/lifecycle"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/slots"
)

type fakeLifecycle struct {
	submitErr  error
	assignErr  error
	cancelErr  error
	readyErr   error
	rateErr    error
	lastAssign struct {
		id, specialist int64
		at             time.Time
	}
	lastParty model.Party
}

func (f *fakeLifecycle) Submit(_ context.Context, in lifecycle.SubmitInput) (model.Appointment, error) {
	if f.submitErr != nil {
		return model.Appointment{}, f.submitErr
	}
	return model.Appointment{ID: 42, ClientID: in.ClientID, Status: model.StatusPending, ProposedDate: in.ProposedDate}, nil
}

func (f *fakeLifecycle) Assign(_ context.Context, id, specialistID int64, at time.Time) (model.Appointment, error) {
	f.lastAssign.id = id
	f.lastAssign.specialist = specialistID
	f.lastAssign.at = at
	if f.assignErr != nil {
		return model.Appointment{}, f.assignErr
	}
	return model.Appointment{ID: id, SpecialistID: &specialistID, ScheduledTime: &at, Status: model.StatusApproved}, nil
}

func (f *fakeLifecycle) Reassign(_ context.Context, id, specialistID int64) (model.Appointment, error) {
	return model.Appointment{ID: id, SpecialistID: &specialistID, Status: model.StatusApproved}, nil
}

func (f *fakeLifecycle) Cancel(_ context.Context, id int64, reason string) (model.Appointment, error) {
	if f.cancelErr != nil {
		return model.Appointment{}, f.cancelErr
	}
	return model.Appointment{ID: id, Status: model.StatusCanceled, RejectReason: reason}, nil
}

func (f *fakeLifecycle) Complete(_ context.Context, id, _ int64) (model.Appointment, error) {
	return model.Appointment{ID: id, Status: model.StatusCompleted}, nil
}

func (f *fakeLifecycle) ConfirmReady(_ context.Context, id int64, party model.Party) (model.Appointment, error) {
	f.lastParty = party
	if f.readyErr != nil {
		return model.Appointment{}, f.readyErr
	}
	return model.Appointment{ID: id, Status: model.StatusApproved, ClientReady: party == model.PartyClient}, nil
}

func (f *fakeLifecycle) RateClient(_ context.Context, _ int64, _ int) error {
	return f.rateErr
}

func newTestHandler(svc Lifecycle) *CoordinatorHandler {
	return NewCoordinatorHandler(Deps{
		Service:   svc,
		Allocator: slots.New(slots.Config{Location: time.UTC}),
		Logger:    slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestSubmit(t *testing.T) {
	h := newTestHandler(&fakeLifecycle{})
	rec := postJSON(t, h.Appointments, `{"client_id":7,"proposed_date":"2026-03-02T00:00:00Z","reason":"leak"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp appointmentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 42 || resp.Status != "pending" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSubmit_Validation(t *testing.T) {
	h := newTestHandler(&fakeLifecycle{})

	if rec := postJSON(t, h.Appointments, `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, h.Appointments, `{"client_id":7,"proposed_date":"2026-03-02T00:00:00Z"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing reason: status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, h.Appointments, `{"client_id":7,"proposed_date":"tomorrow","reason":"leak"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", rec.Code)
	}
}

func TestSubmit_Blacklisted(t *testing.T) {
	h := newTestHandler(&fakeLifecycle{submitErr: model.ErrBlacklisted})
	rec := postJSON(t, h.Appointments, `{"client_id":7,"proposed_date":"2026-03-02T00:00:00Z","reason":"leak"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAssign(t *testing.T) {
	fake := &fakeLifecycle{}
	h := newTestHandler(fake)
	rec := postJSON(t, h.Assign, `{"appointment_id":1,"specialist_id":2,"scheduled_time":"2026-03-02T09:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if fake.lastAssign.id != 1 || fake.lastAssign.specialist != 2 {
		t.Errorf("service got ids %d/%d", fake.lastAssign.id, fake.lastAssign.specialist)
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !fake.lastAssign.at.Equal(want) {
		t.Errorf("service got time %v, want %v", fake.lastAssign.at, want)
	}
}

func TestAssign_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", model.ErrSlotConflict, http.StatusConflict},
		{"outside hours", model.ErrOutsideHours, http.StatusUnprocessableEntity},
		{"wrong state", model.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{"missing", model.ErrNotFound, http.StatusNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := newTestHandler(&fakeLifecycle{assignErr: c.err})
			rec := postJSON(t, h.Assign, `{"appointment_id":1,"specialist_id":2,"scheduled_time":"2026-03-02T09:00:00Z"}`)
			if rec.Code != c.want {
				t.Errorf("status = %d, want %d", rec.Code, c.want)
			}
		})
	}
}

func TestCancel_TerminalState(t *testing.T) {
	h := newTestHandler(&fakeLifecycle{cancelErr: model.ErrInvalidTransition})
	rec := postJSON(t, h.Cancel, `{"appointment_id":1,"reason":"client asked"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestReady(t *testing.T) {
	fake := &fakeLifecycle{}
	h := newTestHandler(fake)

	rec := postJSON(t, h.Ready, `{"appointment_id":1,"party":"specialist"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if fake.lastParty != model.PartySpecialist {
		t.Errorf("party = %q", fake.lastParty)
	}

	if rec := postJSON(t, h.Ready, `{"appointment_id":1,"party":"somebody"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown party: status = %d, want 400", rec.Code)
	}
}

func TestRate(t *testing.T) {
	h := newTestHandler(&fakeLifecycle{})
	if rec := postJSON(t, h.Rate, `{"appointment_id":1,"stars":5}`); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	h = newTestHandler(&fakeLifecycle{rateErr: model.ErrInvalidTransition})
	if rec := postJSON(t, h.Rate, `{"appointment_id":1,"stars":5}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(&fakeLifecycle{})
	routes := []http.HandlerFunc{h.Assign, h.Reassign, h.Cancel, h.Complete, h.Ready, h.Rate}
	for i, route := range routes {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		route(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("route %d: status = %d, want 405", i, rec.Code)
		}
	}
}

func TestSlots_Validation(t *testing.T) {
	h := newTestHandler(&fakeLifecycle{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots?specialist_id=1&date=notadate", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date: status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/slots?date=2026-03-02", nil)
	rec = httptest.NewRecorder()
	h.Slots(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing specialist: status = %d, want 400", rec.Code)
	}
}
