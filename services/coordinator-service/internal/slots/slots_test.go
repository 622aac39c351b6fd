package slots

import (
	"testing"
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

func TestSlots_DefaultWindows(t *testing.T) {
	a := New(Config{Location: time.UTC})
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	got := a.Slots(day)
	// 09:00..11:30 inclusive is 6 slots, 13:30..17:30 inclusive is 9.
	if len(got) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(got))
	}
	if !got[0].Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", got[0].Format("15:04"))
	}
	if !got[5].Equal(day.Add(11*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected last morning slot 11:30, got %s", got[5].Format("15:04"))
	}
	if !got[6].Equal(day.Add(13*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected lunch to be skipped, got %s after 11:30", got[6].Format("15:04"))
	}
	if !got[14].Equal(day.Add(17*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected last slot 17:30, got %s", got[14].Format("15:04"))
	}
}

func TestContains(t *testing.T) {
	a := New(Config{Location: time.UTC})
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	if !a.Contains(day.Add(10 * time.Hour)) {
		t.Fatal("10:00 should be a bookable slot")
	}
	if a.Contains(day.Add(12 * time.Hour)) {
		t.Fatal("12:00 falls inside the lunch break")
	}
	if a.Contains(day.Add(10*time.Hour + 15*time.Minute)) {
		t.Fatal("10:15 is off the half-hour grid")
	}
}

func TestOccupied(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := day.Add(10 * time.Hour)
	other := day.Add(10*time.Hour + 30*time.Minute)

	appts := []model.Appointment{
		{ID: 7, Status: model.StatusApproved, ScheduledTime: &at},
		{ID: 8, Status: model.StatusCanceled, ScheduledTime: &other},
	}

	taken, id := Occupied(at, appts)
	if !taken || id != 7 {
		t.Fatalf("expected conflict with appointment 7, got taken=%v id=%d", taken, id)
	}

	// Canceled appointments do not occupy their old slot.
	taken, _ = Occupied(other, appts)
	if taken {
		t.Fatal("canceled appointment should not occupy a slot")
	}

	taken, _ = Occupied(day.Add(11*time.Hour), appts)
	if taken {
		t.Fatal("free slot reported as occupied")
	}
}

func TestBoard(t *testing.T) {
	a := New(Config{Location: time.UTC})
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	at := day.Add(13*time.Hour + 30*time.Minute)

	board := a.Board(day, []model.Appointment{
		{ID: 3, Status: model.StatusApproved, ScheduledTime: &at},
	})
	if len(board) != 15 {
		t.Fatalf("expected 15 board entries, got %d", len(board))
	}
	var taken int
	for _, s := range board {
		if s.Taken {
			taken++
			if s.AppointmentID != 3 {
				t.Fatalf("expected appointment 3 on taken slot, got %d", s.AppointmentID)
			}
		}
	}
	if taken != 1 {
		t.Fatalf("expected exactly one taken slot, got %d", taken)
	}
}
