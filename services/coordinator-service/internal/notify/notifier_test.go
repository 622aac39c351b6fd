package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

type sentMessage struct {
	recipient int64
	kind      string
	text      string
}

type captureSender struct {
	sent []sentMessage
	fail bool
}

func (s *captureSender) Send(_ context.Context, recipient int64, kind, text string) error {
	if s.fail {
		return errors.New("delivery down")
	}
	s.sent = append(s.sent, sentMessage{recipient: recipient, kind: kind, text: text})
	return nil
}

func testDetail() model.AppointmentDetail {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	specID := int64(5)
	return model.AppointmentDetail{
		Appointment: model.Appointment{
			ID:            11,
			ClientID:      7,
			SpecialistID:  &specID,
			ScheduledTime: &at,
			Status:        model.StatusApproved,
			Reason:        "broken faucet",
		},
		Client:     model.Client{ID: 7, FullName: "Anna K", Phone: "+100", ChatID: 700},
		Specialist: &model.Specialist{ID: 5, FullName: "Boris M", Phone: "+200", ChatID: 500},
	}
}

func newTestNotifier(s Sender) *Notifier {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewNotifier(s, logger, 900)
}

func TestAssigned_TargetsSpecialist(t *testing.T) {
	s := &captureSender{}
	n := newTestNotifier(s)

	if err := n.Assigned(context.Background(), testDetail()); err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(s.sent))
	}
	m := s.sent[0]
	if m.recipient != 500 || m.kind != KindAssigned {
		t.Errorf("sent to %d kind %q", m.recipient, m.kind)
	}
	for _, part := range []string{"#11", "Anna K", "+100", "02.03.2026 09:30"} {
		if !strings.Contains(m.text, part) {
			t.Errorf("text %q missing %q", m.text, part)
		}
	}
}

func TestReminderClient_IncludesSpecialistContact(t *testing.T) {
	s := &captureSender{}
	n := newTestNotifier(s)

	if err := n.ReminderClient(context.Background(), testDetail(), KindOneHour); err != nil {
		t.Fatal(err)
	}
	m := s.sent[0]
	if m.recipient != 700 || m.kind != KindOneHour {
		t.Fatalf("sent to %d kind %q", m.recipient, m.kind)
	}
	if !strings.Contains(m.text, "Boris M") || !strings.Contains(m.text, "+200") {
		t.Errorf("reminder missing specialist contact: %q", m.text)
	}
}

func TestReadyConfirmed_TellsCounterparty(t *testing.T) {
	s := &captureSender{}
	n := newTestNotifier(s)
	d := testDetail()

	if err := n.ReadyConfirmed(context.Background(), d, model.PartySpecialist); err != nil {
		t.Fatal(err)
	}
	if s.sent[0].recipient != 700 {
		t.Errorf("specialist confirmation should go to the client, went to %d", s.sent[0].recipient)
	}

	s.sent = nil
	if err := n.ReadyConfirmed(context.Background(), d, model.PartyClient); err != nil {
		t.Fatal(err)
	}
	if s.sent[0].recipient != 500 {
		t.Errorf("client confirmation should go to the specialist, went to %d", s.sent[0].recipient)
	}
}

func TestNoShow_BothPartiesAndBlockDate(t *testing.T) {
	s := &captureSender{}
	n := newTestNotifier(s)
	until := time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)

	if err := n.NoShow(context.Background(), testDetail(), until); err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(s.sent))
	}
	if !strings.Contains(s.sent[0].text, "16.03.2026") {
		t.Errorf("client notice missing block expiry: %q", s.sent[0].text)
	}
}

func TestAdminNoReady_TargetsAdmin(t *testing.T) {
	s := &captureSender{}
	n := newTestNotifier(s)

	if err := n.AdminNoReady(context.Background(), testDetail()); err != nil {
		t.Fatal(err)
	}
	m := s.sent[0]
	if m.recipient != 900 || m.kind != KindAdminNoReady {
		t.Errorf("sent to %d kind %q, want admin 900 kind %q", m.recipient, m.kind, KindAdminNoReady)
	}
	if !strings.Contains(m.text, "Boris M") {
		t.Errorf("escalation missing specialist name: %q", m.text)
	}
}

func TestAdminAlert_SwallowsFailure(t *testing.T) {
	n := newTestNotifier(&captureSender{fail: true})
	// Must not panic or propagate.
	n.AdminAlert(context.Background(), "something broke")
}

func TestCanceled_DeliveryFailureSurfaces(t *testing.T) {
	n := newTestNotifier(&captureSender{fail: true})
	if err := n.Canceled(context.Background(), testDetail(), "client asked"); err == nil {
		t.Fatal("expected delivery error")
	}
}
