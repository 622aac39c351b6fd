package scheduler

import (
	"testing"
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/notify"
)

var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func kindsAt(t *testing.T, offset time.Duration) []string {
	t.Helper()
	return DueKinds(base, base.Add(-offset))
}

func has(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func TestDueKinds_OneHour(t *testing.T) {
	if !has(kindsAt(t, 60*time.Minute), notify.KindOneHour) {
		t.Error("1h reminder should be due at T-60m")
	}
	if !has(kindsAt(t, 59*time.Minute), notify.KindOneHour) {
		t.Error("1h reminder should still be due at T-59m")
	}
	if has(kindsAt(t, 62*time.Minute), notify.KindOneHour) {
		t.Error("1h reminder must not be due at T-62m")
	}
	if has(DueKinds(base, base.Add(time.Minute)), notify.KindOneHour) {
		t.Error("1h reminder must not be due after the start")
	}
}

func TestDueKinds_FiveMinute(t *testing.T) {
	if !has(kindsAt(t, 5*time.Minute), notify.KindFiveMinute) {
		t.Error("5m reminder should be due at T-5m")
	}
	if has(kindsAt(t, 6*time.Minute), notify.KindFiveMinute) {
		t.Error("5m reminder must not be due at T-6m")
	}
	// Inside both windows: the 1h kind rides along, the ledger decides
	// which ones actually go out.
	kinds := kindsAt(t, 4*time.Minute)
	if !has(kinds, notify.KindOneHour) || !has(kinds, notify.KindFiveMinute) {
		t.Errorf("at T-4m both reminder kinds should be due, got %v", kinds)
	}
}

func TestDueKinds_Ready(t *testing.T) {
	if !has(DueKinds(base, base), notify.KindReady) {
		t.Error("ready prompt should be due at T")
	}
	if !has(DueKinds(base, base.Add(20*time.Second)), notify.KindReady) {
		t.Error("ready prompt should be due just after T")
	}
	if has(DueKinds(base, base.Add(2*time.Minute)), notify.KindReady) {
		t.Error("ready prompt must not be due at T+2m")
	}
}

func TestReadyDue(t *testing.T) {
	if !ReadyDue(base, base.Add(-30*time.Second)) {
		t.Error("ready window should open at T-30s")
	}
	if !ReadyDue(base, base.Add(30*time.Second)) {
		t.Error("ready window should still be open at T+30s")
	}
	if ReadyDue(base, base.Add(-31*time.Second)) || ReadyDue(base, base.Add(31*time.Second)) {
		t.Error("ready window must close outside T±30s")
	}
}

func TestPlanLateness(t *testing.T) {
	appt := func(clientReady, specialistReady bool) model.Appointment {
		at := base
		return model.Appointment{
			Status:          model.StatusApproved,
			ScheduledTime:   &at,
			ClientReady:     clientReady,
			SpecialistReady: specialistReady,
		}
	}

	cases := []struct {
		name      string
		a         model.Appointment
		available bool
		at        time.Duration
		want      latenessPlan
	}{
		// Inside the ready window the scan must still prompt even though
		// no lateness threshold has been crossed yet.
		{"prompt just after start", appt(false, false), true, 15 * time.Second, latenessPlan{PromptReady: true}},
		{"prompt just before start", appt(false, false), true, -20 * time.Second, latenessPlan{PromptReady: true}},
		{"quiet between prompt and alert", appt(false, false), true, 5 * time.Minute, latenessPlan{}},
		{"escalate stalled specialist", appt(false, false), true, 12 * time.Minute, latenessPlan{Escalate: true}},
		{"no escalation when specialist ready", appt(false, true), true, 12 * time.Minute, latenessPlan{}},
		{"no escalation when already unavailable", appt(false, false), false, 12 * time.Minute, latenessPlan{}},
		// Past the no-show threshold the cancellation supersedes the
		// admin escalation, never both on the same tick.
		{"no-show supersedes escalation", appt(false, false), true, 25 * time.Minute, latenessPlan{NoShow: true}},
		{"ready client is never a no-show", appt(true, false), true, 25 * time.Minute, latenessPlan{}},
	}
	for _, c := range cases {
		if got := planLateness(c.a, c.available, base.Add(c.at)); got != c.want {
			t.Errorf("%s: planLateness = %+v, want %+v", c.name, got, c.want)
		}
	}

	if got := planLateness(model.Appointment{Status: model.StatusApproved}, true, base); got != (latenessPlan{}) {
		t.Errorf("unscheduled appointment should plan nothing, got %+v", got)
	}
}

func TestLateness(t *testing.T) {
	cases := []struct {
		late time.Duration
		want Action
	}{
		{0, ActionNone},
		{9 * time.Minute, ActionNone},
		{10 * time.Minute, ActionAdminAlert},
		{19 * time.Minute, ActionAdminAlert},
		{20 * time.Minute, ActionNoShow},
		{time.Hour, ActionNoShow},
	}
	for _, c := range cases {
		if got := Lateness(base, base.Add(c.late)); got != c.want {
			t.Errorf("Lateness at +%s = %v, want %v", c.late, got, c.want)
		}
	}
}
