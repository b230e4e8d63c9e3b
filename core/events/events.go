package events

import (
	"time"

	"github.com/kilianp07/vetdispatch/core/model"
)

// Name identifies an event variant on the wire.
type Name string

const (
	NameOfferCreated         Name = "offer.created"
	NameOfferWithdrawn       Name = "offer.withdrawn"
	NameDispatchExhausted    Name = "dispatch.exhausted"
	NameDispatchAssigned     Name = "dispatch.assigned"
	NameTrackingUpdated      Name = "tracking.updated"
	NameDispatchIncident     Name = "dispatch.incident"
	NameDispatchCancelled    Name = "dispatch.cancelled"
	NameAppointmentCancelled Name = "appointment.cancelled"
)

// Event is implemented only by the variants of this package.
type Event interface {
	EventName() Name
	isEvent()
}

// TriageSummary is the part of the triage shown to candidates.
type TriageSummary struct {
	MainReason    string         `json:"main_reason"`
	CriticalFlags []string       `json:"critical_flags,omitempty"`
	PriorityHint  model.Priority `json:"priority_hint"`
}

// SummarizeTriage copies the triage fields shown to a candidate.
func SummarizeTriage(t model.Triage) TriageSummary {
	return TriageSummary{
		MainReason:    t.MainReason,
		CriticalFlags: append([]string(nil), t.CriticalFlags...),
		PriorityHint:  t.PriorityHint,
	}
}

type OfferCreated struct {
	RequestID       string           `json:"request_id"`
	TriageSummary   TriageSummary    `json:"triage_summary"`
	PriceQuote      model.PriceQuote `json:"price_quote"`
	DistanceKm      float64          `json:"distance_km"`
	ETASeconds      int64            `json:"eta_seconds"`
	ExpiresAt       time.Time        `json:"expires_at"`
	Position        int              `json:"position"`
	TotalCandidates int              `json:"total_candidates"`
	Attempt         int              `json:"attempt"`
}

// Withdrawal reasons.
const (
	ReasonRejected  = "rejected"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonRaceLost  = "race_lost"
)

type OfferWithdrawn struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

type DispatchExhausted struct {
	RequestID string `json:"request_id"`
}

type DispatchAssigned struct {
	RequestID  string               `json:"request_id"`
	ProviderID string               `json:"provider_id"`
	SubStatus  model.TrackingStatus `json:"sub_status"`
}

type TrackingUpdated struct {
	RequestID string               `json:"request_id"`
	SubStatus model.TrackingStatus `json:"sub_status"`
	At        time.Time            `json:"at"`
}

type DispatchIncident struct {
	RequestID            string `json:"request_id"`
	Reason               string `json:"reason"`
	RequiresReassignment bool   `json:"requires_reassignment"`
}

type DispatchCancelled struct {
	RequestID  string `json:"request_id"`
	By         string `json:"by"`
	Reason     string `json:"reason"`
	ReasonCode string `json:"reason_code,omitempty"`
}

type AppointmentCancelled struct {
	AppointmentID string                  `json:"appointment_id"`
	ProviderID    string                  `json:"provider_id"`
	Status        model.AppointmentStatus `json:"status"`
	Reason        string                  `json:"reason"`
	ReasonCode    string                  `json:"reason_code,omitempty"`
	// PriorityRematch is set for late cancellations.
	PriorityRematch bool `json:"priority_rematch"`
}

func (OfferCreated) EventName() Name         { return NameOfferCreated }
func (OfferWithdrawn) EventName() Name       { return NameOfferWithdrawn }
func (DispatchExhausted) EventName() Name    { return NameDispatchExhausted }
func (DispatchAssigned) EventName() Name     { return NameDispatchAssigned }
func (TrackingUpdated) EventName() Name      { return NameTrackingUpdated }
func (DispatchIncident) EventName() Name     { return NameDispatchIncident }
func (DispatchCancelled) EventName() Name    { return NameDispatchCancelled }
func (AppointmentCancelled) EventName() Name { return NameAppointmentCancelled }

func (OfferCreated) isEvent()         {}
func (OfferWithdrawn) isEvent()       {}
func (DispatchExhausted) isEvent()    {}
func (DispatchAssigned) isEvent()     {}
func (TrackingUpdated) isEvent()      {}
func (DispatchIncident) isEvent()     {}
func (DispatchCancelled) isEvent()    {}
func (AppointmentCancelled) isEvent() {}
