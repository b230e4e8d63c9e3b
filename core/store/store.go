// Package store defines persistence contracts for requests, providers and
// appointments together with in-memory implementations.
package store

import (
	"context"

	"github.com/kilianp07/vetdispatch/core/model"
)

// RequestStore persists emergency requests. Update is a compare-and-swap on
// Version: it fails with a state conflict when the stored version differs and
// otherwise stores the request with Version incremented.
type RequestStore interface {
	Create(ctx context.Context, req model.EmergencyRequest) (model.EmergencyRequest, error)
	Get(ctx context.Context, id string) (model.EmergencyRequest, error)
	Update(ctx context.Context, req model.EmergencyRequest) (model.EmergencyRequest, error)
	ListByStatus(ctx context.Context, statuses ...model.Status) ([]model.EmergencyRequest, error)
}

// ProviderDirectory stores providers. Mutate applies fn atomically to one provider.
type ProviderDirectory interface {
	Get(ctx context.Context, id string) (model.Provider, error)
	Put(ctx context.Context, p model.Provider) error
	List(ctx context.Context) ([]model.Provider, error)
	Mutate(ctx context.Context, id string, fn func(*model.Provider) error) (model.Provider, error)
}

// AppointmentStore stores scheduled appointments.
type AppointmentStore interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	Put(ctx context.Context, a model.Appointment) error
	Mutate(ctx context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error)
}
