package logging

import (
	"context"
	"time"

	"github.com/kilianp07/vetdispatch/core/model"
)

// TransitionRecord captures one status change of an emergency request.
type TransitionRecord struct {
	Timestamp  time.Time    `json:"timestamp"`
	RequestID  string       `json:"request_id"`
	From       model.Status `json:"from"`
	To         model.Status `json:"to"`
	ProviderID string       `json:"provider_id,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Attempt    int          `json:"attempt,omitempty"`
}

// LogQuery defines filters for retrieving records. Zero values match everything.
type LogQuery struct {
	Start      time.Time
	End        time.Time
	RequestID  string
	ProviderID string
	Status     model.Status
}

// Match reports whether the record satisfies every filter of q.
// Status matches either side of the transition.
func (q LogQuery) Match(r TransitionRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.RequestID != "" && r.RequestID != q.RequestID {
		return false
	}
	if q.ProviderID != "" && r.ProviderID != q.ProviderID {
		return false
	}
	if q.Status != "" && r.From != q.Status && r.To != q.Status {
		return false
	}
	return true
}

// LogStore persists TransitionRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec TransitionRecord) error
	Query(ctx context.Context, q LogQuery) ([]TransitionRecord, error)
	Close() error
}

// NopStore discards every record.
type NopStore struct{}

func (NopStore) Append(context.Context, TransitionRecord) error { return nil }

func (NopStore) Query(context.Context, LogQuery) ([]TransitionRecord, error) { return nil, nil }

func (NopStore) Close() error { return nil }
