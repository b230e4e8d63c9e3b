package model

import "time"

// AppointmentStatus is the lifecycle state of a scheduled appointment.
type AppointmentStatus string

const (
	AppointmentScheduled                 AppointmentStatus = "scheduled"
	AppointmentCancelledByProviderOnTime AppointmentStatus = "cancelled_by_provider_on_time"
	AppointmentCancelledLateByProvider   AppointmentStatus = "cancelled_late_by_provider"
	AppointmentNoShow                    AppointmentStatus = "no_show"
	AppointmentCompleted                 AppointmentStatus = "completed"
)

// Appointment is a fixed-schedule booking. Only its cancellation policy lives here.
type Appointment struct {
	ID           string            `json:"id"`
	ProviderID   string            `json:"provider_id"`
	RequesterID  string            `json:"requester_id"`
	Modality     Modality          `json:"modality"`
	StartsAt     time.Time         `json:"starts_at"`
	Status       AppointmentStatus `json:"status"`
	Cancellation *Cancellation     `json:"cancellation,omitempty"`
	// Rematch flags a cancelled appointment for priority re-matching.
	Rematch string `json:"rematch,omitempty"`
}
