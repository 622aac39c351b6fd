package model

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Party identifies which side of the readiness handshake is acting.
type Party string

const (
	PartyClient     Party = "client"
	PartySpecialist Party = "specialist"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSlotConflict      = errors.New("time slot already occupied for specialist")
	ErrInvalidTransition = errors.New("transition not permitted from current state")
	ErrDuplicateFire     = errors.New("notification kind already recorded for appointment")
	ErrBlacklisted       = errors.New("client is blacklisted")
	ErrOutsideHours      = errors.New("time is outside the bookable slot grid")
)

type Appointment struct {
	ID              int64
	ClientID        int64
	SpecialistID    *int64
	ProposedDate    time.Time
	ScheduledTime   *time.Time
	Status          Status
	ClientReady     bool
	SpecialistReady bool
	Complex         string
	Reason          string
	RejectReason    string
	CreatedAt       time.Time
}

type Specialist struct {
	ID                    int64
	FullName              string
	Username              string
	Phone                 string
	ChatID                int64
	IsAvailable           bool
	CompletedAppointments int
	Rank                  string
}

type Client struct {
	ID          int64
	FullName    string
	Phone       string
	City        string
	ChatID      int64
	Rating      int
	RatingCount int
}

// AppointmentDetail is the fully populated read model: the appointment plus
// both parties, fetched in one query. Specialist is nil until assignment.
type AppointmentDetail struct {
	Appointment Appointment
	Client      Client
	Specialist  *Specialist
}

type NotificationRecord struct {
	AppointmentID int64
	Kind          string
	SentAt        time.Time
}

type BlacklistEntry struct {
	ChatID       int64
	Reason       string
	BlockedUntil time.Time
	CreatedAt    time.Time
}
