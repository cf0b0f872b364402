package scheduling

import (
	"time"

	"github.com/odontocare/odontocare/services/appointment-service/internal/model"
	"github.com/odontocare/odontocare/services/appointment-service/internal/outbox"
)

const (
	EventScheduled = "appointment.scheduled.v1"
	EventCancelled = "appointment.cancelled.v1"

	aggregateAppointment = "appointment"
)

type appointmentEvent struct {
	AppointmentID string     `json:"appointment_id"`
	PatientID     string     `json:"patient_id"`
	DoctorID      string     `json:"doctor_id"`
	CenterID      string     `json:"center_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CancelReason  string     `json:"cancel_reason,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

func newAppointmentEvent(eventType string, a model.Appointment, at time.Time) (outbox.Event, error) {
	return outbox.NewEvent(aggregateAppointment, a.ID, eventType, appointmentEvent{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		CenterID:      a.CenterID,
		StartTime:     a.Start,
		EndTime:       a.End,
		Status:        string(a.Status),
		Reason:        a.Reason,
		CreatedBy:     a.CreatedBy,
		CancelReason:  a.CancelReason,
		CancelledAt:   a.CancelledAt,
		OccurredAt:    at,
	}, at)
}
