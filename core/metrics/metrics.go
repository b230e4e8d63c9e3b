package metrics

import (
	"time"

	"github.com/kilianp07/vetdispatch/core/model"
)

// Offer outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeTimeout   = "timeout"
	OutcomeWithdrawn = "withdrawn"
)

// OfferResult represents the resolution of one offer.
type OfferResult struct {
	RequestID  string
	ProviderID string
	Outcome    string
	Attempt    int
	Position   int
	Total      int
	// Latency is the time between offer creation and resolution.
	Latency time.Duration
	Time    time.Time
}

// MetricsSink records offer resolutions for observability purposes.
type MetricsSink interface {
	RecordOfferResult(res OfferResult) error
}

// TransitionEvent captures a status change of an emergency request.
type TransitionEvent struct {
	RequestID  string
	From       model.Status
	To         model.Status
	ProviderID string
	Time       time.Time
}

// TransitionRecorder records request status changes.
type TransitionRecorder interface {
	RecordTransition(ev TransitionEvent) error
}

// ReliabilityEvent is a snapshot of a provider profile after a counter mutation.
type ReliabilityEvent struct {
	ProviderID string
	Profile    model.ReliabilityProfile
	Cause      string
	Time       time.Time
}

// ReliabilityRecorder records reliability profile changes.
type ReliabilityRecorder interface {
	RecordReliability(ev ReliabilityEvent) error
}

// CandidatePoolEvent describes the outcome of one ranking pass.
type CandidatePoolEvent struct {
	RequestID  string
	Candidates int
	Excluded   int
	Time       time.Time
}

// CandidatePoolRecorder records ranking pass sizes.
type CandidatePoolRecorder interface {
	RecordCandidatePool(ev CandidatePoolEvent) error
}

// NopSink implements MetricsSink and every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordOfferResult(OfferResult) error { return nil }

func (NopSink) RecordTransition(TransitionEvent) error       { return nil }
func (NopSink) RecordReliability(ReliabilityEvent) error     { return nil }
func (NopSink) RecordCandidatePool(CandidatePoolEvent) error { return nil }
