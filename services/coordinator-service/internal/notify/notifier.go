package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

const timeLayout = "02.01.2006 15:04"

// Notifier formats and fans out the coordination messages. Delivery
// failures on party messages are returned to the caller; admin escalation
// is always best-effort.
type Notifier struct {
	sender      Sender
	logger      *slog.Logger
	adminChatID int64
}

func NewNotifier(sender Sender, logger *slog.Logger, adminChatID int64) *Notifier {
	return &Notifier{sender: sender, logger: logger, adminChatID: adminChatID}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "not set"
	}
	return t.Format(timeLayout)
}

// AdminAlert notifies the administrator. Best effort: a failure is logged
// and swallowed since there is nobody left to escalate to.
func (n *Notifier) AdminAlert(ctx context.Context, text string) {
	if err := n.sender.Send(ctx, n.adminChatID, KindAdminAlert, text); err != nil {
		n.logger.Error("admin alert delivery failed", "err", err)
	}
}

// Assigned tells the specialist about a fresh assignment.
func (n *Notifier) Assigned(ctx context.Context, d model.AppointmentDetail) error {
	if d.Specialist == nil {
		return nil
	}
	text := fmt.Sprintf(
		"New appointment #%d: client %s (phone %s), time %s, category %s. Reason: %s",
		d.Appointment.ID, d.Client.FullName, d.Client.Phone,
		formatTime(d.Appointment.ScheduledTime), d.Appointment.Complex, d.Appointment.Reason,
	)
	return n.sender.Send(ctx, d.Specialist.ChatID, KindAssigned, text)
}

// Reassigned tells the new specialist and the client that the handshake
// restarts with a new party.
func (n *Notifier) Reassigned(ctx context.Context, d model.AppointmentDetail) error {
	if d.Specialist == nil {
		return nil
	}
	specText := fmt.Sprintf(
		"Reassigned appointment #%d: client %s (phone %s), time %s. Reason: %s",
		d.Appointment.ID, d.Client.FullName, d.Client.Phone,
		formatTime(d.Appointment.ScheduledTime), d.Appointment.Reason,
	)
	if err := n.sender.Send(ctx, d.Specialist.ChatID, KindReassigned, specText); err != nil {
		return err
	}
	clientText := fmt.Sprintf(
		"Your appointment #%d was reassigned to %s (phone %s), time %s. Please confirm readiness again closer to the time.",
		d.Appointment.ID, d.Specialist.FullName, d.Specialist.Phone,
		formatTime(d.Appointment.ScheduledTime),
	)
	return n.sender.Send(ctx, d.Client.ChatID, KindReassigned, clientText)
}

// Canceled informs the client; when a specialist was assigned they get a
// copy too.
func (n *Notifier) Canceled(ctx context.Context, d model.AppointmentDetail, reason string) error {
	clientText := fmt.Sprintf("Your appointment #%d was canceled. Reason: %s", d.Appointment.ID, reason)
	err := n.sender.Send(ctx, d.Client.ChatID, KindCanceled, clientText)
	if d.Specialist != nil {
		specText := fmt.Sprintf("Appointment #%d with %s was canceled. Reason: %s",
			d.Appointment.ID, d.Client.FullName, reason)
		if specErr := n.sender.Send(ctx, d.Specialist.ChatID, KindCanceled, specText); err == nil {
			err = specErr
		}
	}
	return err
}

// ReminderClient sends the 1h/5m/ready prompt to the client, including
// specialist contact details as in the admin-mediated flow.
func (n *Notifier) ReminderClient(ctx context.Context, d model.AppointmentDetail, kind string) error {
	var lead string
	switch kind {
	case KindOneHour:
		lead = fmt.Sprintf("Reminder: appointment #%d starts in one hour at %s.",
			d.Appointment.ID, formatTime(d.Appointment.ScheduledTime))
	case KindFiveMinute:
		lead = fmt.Sprintf("Reminder: appointment #%d starts in five minutes at %s.",
			d.Appointment.ID, formatTime(d.Appointment.ScheduledTime))
	default:
		lead = fmt.Sprintf("Appointment #%d is starting now. Please confirm you are ready.",
			d.Appointment.ID)
	}
	text := lead
	if d.Specialist != nil {
		text += fmt.Sprintf(" Specialist: %s (phone %s).", d.Specialist.FullName, d.Specialist.Phone)
	}
	text += " Confirm readiness when you are in place."
	return n.sender.Send(ctx, d.Client.ChatID, kind, text)
}

// ReminderSpecialist mirrors ReminderClient for the other side.
func (n *Notifier) ReminderSpecialist(ctx context.Context, d model.AppointmentDetail, kind string) error {
	if d.Specialist == nil {
		return nil
	}
	var lead string
	switch kind {
	case KindOneHour:
		lead = fmt.Sprintf("Reminder: appointment #%d in one hour at %s.",
			d.Appointment.ID, formatTime(d.Appointment.ScheduledTime))
	case KindFiveMinute:
		lead = fmt.Sprintf("Reminder: appointment #%d in five minutes at %s.",
			d.Appointment.ID, formatTime(d.Appointment.ScheduledTime))
	default:
		lead = fmt.Sprintf("Appointment #%d is starting now. Please confirm readiness in your schedule.",
			d.Appointment.ID)
	}
	text := fmt.Sprintf("%s Client: %s (phone %s). Reason: %s",
		lead, d.Client.FullName, d.Client.Phone, d.Appointment.Reason)
	return n.sender.Send(ctx, d.Specialist.ChatID, kind, text)
}

// ReadyConfirmed tells the counterparty their opposite number is in place.
func (n *Notifier) ReadyConfirmed(ctx context.Context, d model.AppointmentDetail, party model.Party) error {
	if party == model.PartySpecialist {
		if d.Specialist == nil {
			return nil
		}
		text := fmt.Sprintf("Specialist %s is ready for appointment #%d (time %s).",
			d.Specialist.FullName, d.Appointment.ID, formatTime(d.Appointment.ScheduledTime))
		return n.sender.Send(ctx, d.Client.ChatID, KindReady, text)
	}
	if d.Specialist == nil {
		return nil
	}
	text := fmt.Sprintf("Client %s confirmed readiness for appointment #%d (time %s).",
		d.Client.FullName, d.Appointment.ID, formatTime(d.Appointment.ScheduledTime))
	return n.sender.Send(ctx, d.Specialist.ChatID, KindReady, text)
}

// NoShow informs both parties about the automatic cancellation and the
// client block.
func (n *Notifier) NoShow(ctx context.Context, d model.AppointmentDetail, blockedUntil time.Time) error {
	clientText := fmt.Sprintf(
		"Appointment #%d was canceled: readiness was not confirmed within 20 minutes. You are blocked from booking until %s.",
		d.Appointment.ID, blockedUntil.Format(timeLayout),
	)
	err := n.sender.Send(ctx, d.Client.ChatID, KindNoShow, clientText)
	if d.Specialist != nil {
		specText := fmt.Sprintf("Appointment #%d was canceled as a no-show.", d.Appointment.ID)
		if specErr := n.sender.Send(ctx, d.Specialist.ChatID, KindNoShow, specText); err == nil {
			err = specErr
		}
	}
	return err
}

// AdminNoReady escalates a stalled specialist to the administrator.
func (n *Notifier) AdminNoReady(ctx context.Context, d model.AppointmentDetail) error {
	name := "unassigned"
	if d.Specialist != nil {
		name = d.Specialist.FullName
	}
	text := fmt.Sprintf(
		"Specialist %s has not confirmed readiness for appointment #%d (scheduled %s, client %s).",
		name, d.Appointment.ID, formatTime(d.Appointment.ScheduledTime), d.Client.FullName,
	)
	return n.sender.Send(ctx, n.adminChatID, KindAdminNoReady, text)
}

// RankReset tells a specialist the annual counters were zeroed.
func (n *Notifier) RankReset(ctx context.Context, s model.Specialist, baseline string) error {
	text := fmt.Sprintf("Annual reset: your completed-appointments counter was reset and your rank is %s again.", baseline)
	return n.sender.Send(ctx, s.ChatID, KindRankReset, text)
}
