package slots

import (
	"time"

	"github.com/dmitri-ops/apptcoord/services/coordinator-service/internal/model"
)

// Step is the booking granularity.
const Step = 30 * time.Minute

// window is a working interval expressed as minutes from midnight. End is
// the last slot start, inclusive.
type window struct {
	start int
	end   int
}

// Allocator enumerates bookable half-hour slots within the configured
// working windows and checks them against a specialist's approved calendar.
type Allocator struct {
	loc     *time.Location
	windows []window
}

// Config carries the working-hours layout. Zero values select the default
// schedule: 09:00-11:30 and 13:30-17:30 with the lunch break excluded.
type Config struct {
	Location       *time.Location
	MorningStart   time.Duration
	MorningEnd     time.Duration
	AfternoonStart time.Duration
	AfternoonEnd   time.Duration
}

func New(cfg Config) *Allocator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MorningStart == 0 && cfg.MorningEnd == 0 {
		cfg.MorningStart = 9 * time.Hour
		cfg.MorningEnd = 11*time.Hour + 30*time.Minute
	}
	if cfg.AfternoonStart == 0 && cfg.AfternoonEnd == 0 {
		cfg.AfternoonStart = 13*time.Hour + 30*time.Minute
		cfg.AfternoonEnd = 17*time.Hour + 30*time.Minute
	}
	return &Allocator{
		loc: cfg.Location,
		windows: []window{
			{start: int(cfg.MorningStart.Minutes()), end: int(cfg.MorningEnd.Minutes())},
			{start: int(cfg.AfternoonStart.Minutes()), end: int(cfg.AfternoonEnd.Minutes())},
		},
	}
}

func (a *Allocator) Location() *time.Location {
	return a.loc
}

// Slots returns every slot start on the given date, ordered, in the
// allocator's location.
func (a *Allocator) Slots(date time.Time) []time.Time {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, a.loc)
	step := int(Step.Minutes())

	var out []time.Time
	for _, w := range a.windows {
		for m := w.start; m <= w.end; m += step {
			out = append(out, day.Add(time.Duration(m)*time.Minute))
		}
	}
	return out
}

// Contains reports whether at falls exactly on a bookable slot start.
func (a *Allocator) Contains(at time.Time) bool {
	local := at.In(a.loc)
	for _, s := range a.Slots(local) {
		if s.Equal(local) {
			return true
		}
	}
	return false
}

// Occupied reports whether some approved appointment in appts is scheduled
// at the same minute as at, returning the conflicting appointment id.
// Callers pass the approved calendar of a single specialist; the allocator
// never resolves conflicts itself.
func Occupied(at time.Time, appts []model.Appointment) (bool, int64) {
	key := at.Truncate(time.Minute)
	for _, ap := range appts {
		if ap.Status != model.StatusApproved || ap.ScheduledTime == nil {
			continue
		}
		if ap.ScheduledTime.Truncate(time.Minute).Equal(key) {
			return true, ap.ID
		}
	}
	return false, 0
}

// Slot is one entry of the occupancy board shown to the admin when picking
// a time.
type Slot struct {
	Start         time.Time
	Taken         bool
	AppointmentID int64
}

// Board merges the slot grid for a date with a specialist's approved
// appointments.
func (a *Allocator) Board(date time.Time, appts []model.Appointment) []Slot {
	grid := a.Slots(date)
	board := make([]Slot, 0, len(grid))
	for _, s := range grid {
		taken, id := Occupied(s, appts)
		board = append(board, Slot{Start: s, Taken: taken, AppointmentID: id})
	}
	return board
}
