package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

// ParseStatus accepts the canonical names and the legacy Spanish ones.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "scheduled", "programada":
		return StatusScheduled, true
	case "cancelled", "canceled", "cancelada":
		return StatusCancelled, true
	default:
		return "", false
	}
}

type Appointment struct {
	ID           string
	PatientID    string
	DoctorID     string
	CenterID     string
	Start        time.Time
	End          time.Time
	Status       Status
	Reason       string
	CreatedBy    string
	CancelReason string
	CancelledAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Overlaps reports whether a's half-open interval [Start, End) intersects [start, end).
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

// Filter is a conjunctive listing filter. Zero fields do not constrain.
type Filter struct {
	DateFrom *time.Time // Start >= DateFrom
	DateTo   *time.Time // Start <= DateTo
	DoctorID string
	CenterID string
	Status   Status
	Limit    int
	Offset   int
}

// Matches applies every set field of f to a, ignoring pagination.
func (f Filter) Matches(a Appointment) bool {
	if f.DateFrom != nil && a.Start.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && a.Start.After(*f.DateTo) {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.CenterID != "" && a.CenterID != f.CenterID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

// SlotQuery asks for scheduled appointments intersecting [Start, End) for the
// doctor, or at the center when CenterID is set. ExcludeID is skipped.
type SlotQuery struct {
	DoctorID  string
	CenterID  string
	Start     time.Time
	End       time.Time
	ExcludeID string
}

// Less orders appointments by start time, then id.
func Less(a, b Appointment) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}
