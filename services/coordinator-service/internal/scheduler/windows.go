package scheduler

import (
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/notify"
)

// Reminder windows are wide, not exact: a kind is due from the moment its
// offset passes until the appointment starts, and the ledger keeps it from
// firing twice. A scan that was down during the exact minute still catches
// up on the next tick.
const (
	oneHourWindow    = 61 * time.Minute
	fiveMinuteWindow = 5*time.Minute + 30*time.Second
	readyTolerance   = 30 * time.Second

	// Lateness thresholds after the scheduled start.
	adminAlertAfter = 10 * time.Minute
	noShowAfter     = 20 * time.Minute
)

// DueKinds returns the reminder kinds currently inside their window for an
// appointment starting at scheduled, most urgent last.
func DueKinds(scheduled, now time.Time) []string {
	until := scheduled.Sub(now)

	var kinds []string
	if until > 0 && until <= oneHourWindow {
		kinds = append(kinds, notify.KindOneHour)
	}
	if until > 0 && until <= fiveMinuteWindow {
		kinds = append(kinds, notify.KindFiveMinute)
	}
	if ReadyDue(scheduled, now) {
		kinds = append(kinds, notify.KindReady)
	}
	return kinds
}

// ReadyDue reports whether now sits inside the readiness-prompt window
// around the scheduled start.
func ReadyDue(scheduled, now time.Time) bool {
	until := scheduled.Sub(now)
	return until <= readyTolerance && until >= -readyTolerance
}

// Action is the lateness verdict for an approved appointment whose start
// time has passed without the specialist confirming readiness.
type Action int

const (
	ActionNone Action = iota
	ActionAdminAlert
	ActionNoShow
)

// Lateness classifies how overdue the readiness handshake is. The admin
// alert escalates once; past the no-show threshold the appointment is
// canceled outright.
func Lateness(scheduled, now time.Time) Action {
	late := now.Sub(scheduled)
	switch {
	case late >= noShowAfter:
		return ActionNoShow
	case late >= adminAlertAfter:
		return ActionAdminAlert
	default:
		return ActionNone
	}
}

// latenessPlan is what the lateness scan owes one appointment on a tick.
type latenessPlan struct {
	PromptReady bool
	Escalate    bool
	NoShow      bool
}

// planLateness decides the scan's moves for one approved appointment. The
// lateness actions are mutually exclusive: past the no-show threshold the
// cancellation supersedes the admin escalation, so an appointment first
// seen twenty minutes late does not get both notices at once.
func planLateness(a model.Appointment, specialistAvailable bool, now time.Time) latenessPlan {
	var plan latenessPlan
	if a.ScheduledTime == nil {
		return plan
	}
	plan.PromptReady = ReadyDue(*a.ScheduledTime, now)
	switch Lateness(*a.ScheduledTime, now) {
	case ActionNoShow:
		plan.NoShow = !a.ClientReady
	case ActionAdminAlert:
		plan.Escalate = !a.SpecialistReady && specialistAvailable
	}
	return plan
}
