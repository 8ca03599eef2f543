// Package callwindow decides whether a consultation call may be started
// relative to the appointment's scheduled time.
package callwindow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// BeforeWindowMinutes is how early a call may start before the appointment.
	BeforeWindowMinutes = 15
	// AfterWindowMinutes is how long after the appointment a call may still start.
	AfterWindowMinutes = 60
)

type Phase string

const (
	PhaseTooEarly Phase = "too-early"
	PhaseActive   Phase = "active"
	PhaseExpired  Phase = "expired"
)

var ErrInvalidAppointmentTime = errors.New("appointment time is not a valid timestamp")

// Status is a view of "now vs. scheduled time". It is recomputed, never stored.
type Status struct {
	CanStartCall          bool  `json:"canStartCall"`
	Status                Phase `json:"status"`
	MinutesUntilAvailable *int  `json:"minutesUntilAvailable,omitempty"`
	MinutesUntilExpiry    *int  `json:"minutesUntilExpiry,omitempty"`
}

// Evaluate classifies now against the window [-AfterWindowMinutes, BeforeWindowMinutes]
// around appointment. Both edges belong to the active phase.
func Evaluate(now, appointment time.Time) Status {
	delta := floorMinutes(appointment.Sub(now))
	switch {
	case delta > BeforeWindowMinutes:
		return Status{
			CanStartCall:          false,
			Status:                PhaseTooEarly,
			MinutesUntilAvailable: intPtr(delta - BeforeWindowMinutes),
		}
	case delta >= -AfterWindowMinutes:
		return Status{
			CanStartCall:       true,
			Status:             PhaseActive,
			MinutesUntilExpiry: intPtr(max(0, AfterWindowMinutes+delta)),
		}
	default:
		return Status{CanStartCall: false, Status: PhaseExpired}
	}
}

var appointmentLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateTime,
}

// ParseAppointmentTime parses an ISO datetime. Inputs without a zone are read as UTC.
func ParseAppointmentTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidAppointmentTime
	}
	for _, layout := range appointmentLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidAppointmentTime, s)
}

func floorMinutes(d time.Duration) int {
	m := d / time.Minute
	if d%time.Minute < 0 {
		m--
	}
	return int(m)
}

func intPtr(v int) *int {
	return &v
}
