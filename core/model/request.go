package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the dispatch status of an emergency request.
type Status string

const (
	StatusPending          Status = "pending"
	StatusOfferOutstanding Status = "offer_outstanding"
	StatusAssigned         Status = "assigned"
	StatusIncidentReported Status = "incident_reported"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusExhausted        Status = "exhausted"
)

// Terminal reports whether no further dispatch transition can leave the status.
// Exhausted is not terminal: it reopens when a new provider becomes available.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority is the triage priority hint supplied by the requester.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Modality is the way a service is delivered.
type Modality string

const (
	ModalityHomeVisit Modality = "home_visit"
	ModalityInClinic  Modality = "in_clinic"
	ModalityTele      Modality = "teleconsultation"
)

// TrackingStatus is the fine grained progress of an assigned request.
type TrackingStatus string

const (
	TrackingAccepted       TrackingStatus = "accepted"
	TrackingEnRoute        TrackingStatus = "en_route"
	TrackingArrived        TrackingStatus = "arrived"
	TrackingTutorConfirmed TrackingStatus = "tutor_confirmed"
	TrackingInService      TrackingStatus = "in_service"
	TrackingCompleted      TrackingStatus = "completed"
)

var trackingOrder = []TrackingStatus{
	TrackingAccepted,
	TrackingEnRoute,
	TrackingArrived,
	TrackingTutorConfirmed,
	TrackingInService,
	TrackingCompleted,
}

// Rank returns the position of the sub-status in the tracking sequence or -1.
func (t TrackingStatus) Rank() int {
	for i, s := range trackingOrder {
		if s == t {
			return i
		}
	}
	return -1
}

// Next returns the sub-status that follows t and false when t is the last one.
func (t TrackingStatus) Next() (TrackingStatus, bool) {
	r := t.Rank()
	if r < 0 || r+1 >= len(trackingOrder) {
		return "", false
	}
	return trackingOrder[r+1], true
}

// Triage describes the emergency. It is immutable after creation.
type Triage struct {
	MainReason    string   `json:"main_reason"`
	CriticalFlags []string `json:"critical_flags,omitempty"`
	PriorityHint  Priority `json:"priority_hint"`
}

// Location is a geographic point with a human readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// PriceQuote is the opaque quote supplied by the pricing collaborator.
type PriceQuote struct {
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// Offer is the single outstanding proposal of a request to one candidate.
type Offer struct {
	CandidateID     string    `json:"candidate_id"`
	OfferedAt       time.Time `json:"offered_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	Position        int       `json:"position"`
	TotalCandidates int       `json:"total_candidates"`
	// Attempt strictly increases across offers of the same request.
	Attempt int `json:"attempt"`
}

// Tracking holds the progress of an assigned request.
type Tracking struct {
	SubStatus  TrackingStatus               `json:"sub_status,omitempty"`
	Timestamps map[TrackingStatus]time.Time `json:"timestamps,omitempty"`
}

// Incident is a post-acceptance failure reported by the assigned provider.
type Incident struct {
	ReportedAt           time.Time `json:"reported_at"`
	ReportedBy           string    `json:"reported_by"`
	Reason               string    `json:"reason"`
	RequiresReassignment bool      `json:"requires_reassignment"`
}

// Cancellation records who cancelled a request and why.
type Cancellation struct {
	By         string    `json:"by"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason"`
	ReasonCode string    `json:"reason_code,omitempty"`
}

// EmergencyRequest is the unit of dispatch work.
type EmergencyRequest struct {
	ID                 string        `json:"id"`
	RequesterID        string        `json:"requester_id"`
	AssignedProviderID string        `json:"assigned_provider_id,omitempty"`
	Triage             Triage        `json:"triage"`
	Location           Location      `json:"location"`
	Modality           Modality      `json:"modality"`
	Pricing            PriceQuote    `json:"pricing"`
	Status             Status        `json:"status"`
	Offer              *Offer        `json:"offer,omitempty"`
	Excluded           []string      `json:"rejected_or_failed_provider_ids,omitempty"`
	Tracking           Tracking      `json:"tracking"`
	Incident           *Incident     `json:"incident,omitempty"`
	Cancellation       *Cancellation `json:"cancellation,omitempty"`
	// Ranked is the remaining ranked list of the current dispatch pass.
	Ranked []Candidate `json:"ranked,omitempty"`
	// Attempts counts offers made; it is the attempt number of the latest offer.
	Attempts        int       `json:"attempts"`
	LastOfferExpiry time.Time `json:"last_offer_expiry,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	// Version is bumped by the store on every successful update.
	Version int64 `json:"version"`
}

// IsExcluded reports whether the provider previously rejected or failed the request.
func (r EmergencyRequest) IsExcluded(providerID string) bool {
	for _, id := range r.Excluded {
		if id == providerID {
			return true
		}
	}
	return false
}

// Exclude appends the provider to the exclusion set. The set never shrinks.
func (r *EmergencyRequest) Exclude(providerID string) {
	if providerID == "" || r.IsExcluded(providerID) {
		return
	}
	r.Excluded = append(r.Excluded, providerID)
}

// Clone returns a deep copy so stores and callers never share mutable state.
func (r EmergencyRequest) Clone() EmergencyRequest {
	cp := r
	cp.Triage.CriticalFlags = append([]string(nil), r.Triage.CriticalFlags...)
	cp.Excluded = append([]string(nil), r.Excluded...)
	cp.Ranked = append([]Candidate(nil), r.Ranked...)
	if r.Offer != nil {
		o := *r.Offer
		cp.Offer = &o
	}
	if r.Incident != nil {
		i := *r.Incident
		cp.Incident = &i
	}
	if r.Cancellation != nil {
		c := *r.Cancellation
		cp.Cancellation = &c
	}
	if r.Tracking.Timestamps != nil {
		cp.Tracking.Timestamps = make(map[TrackingStatus]time.Time, len(r.Tracking.Timestamps))
		for k, v := range r.Tracking.Timestamps {
			cp.Tracking.Timestamps[k] = v
		}
	}
	return cp
}

// IsParty reports whether the actor is the requester or the assigned provider.
func (r EmergencyRequest) IsParty(actorID string) bool {
	return actorID != "" && (actorID == r.RequesterID || actorID == r.AssignedProviderID)
}
