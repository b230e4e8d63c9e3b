package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/model"
)

// MemoryRequestStore keeps requests in a map guarded by a RWMutex.
type MemoryRequestStore struct {
	mu   sync.RWMutex
	data map[string]model.EmergencyRequest
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{data: make(map[string]model.EmergencyRequest)}
}

func (s *MemoryRequestStore) Create(_ context.Context, req model.EmergencyRequest) (model.EmergencyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[req.ID]; ok {
		return model.EmergencyRequest{}, apperr.Conflict("store.create", "request %s already exists", req.ID)
	}
	req.Version = 1
	s.data[req.ID] = req.Clone()
	return req.Clone(), nil
}

func (s *MemoryRequestStore) Get(_ context.Context, id string) (model.EmergencyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	if !ok {
		return model.EmergencyRequest{}, apperr.NotFound("store.get", "request %s", id)
	}
	return r.Clone(), nil
}

func (s *MemoryRequestStore) Update(_ context.Context, req model.EmergencyRequest) (model.EmergencyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[req.ID]
	if !ok {
		return model.EmergencyRequest{}, apperr.NotFound("store.update", "request %s", req.ID)
	}
	if cur.Version != req.Version {
		return model.EmergencyRequest{}, apperr.Conflict("store.update", "request %s version %d, have %d", req.ID, cur.Version, req.Version)
	}
	req.Version++
	s.data[req.ID] = req.Clone()
	return req.Clone(), nil
}

func (s *MemoryRequestStore) ListByStatus(_ context.Context, statuses ...model.Status) ([]model.EmergencyRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EmergencyRequest
	for _, r := range s.data {
		if len(statuses) == 0 || hasStatus(statuses, r.Status) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func hasStatus(statuses []model.Status, s model.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// MemoryProviderDirectory keeps providers in memory.
type MemoryProviderDirectory struct {
	mu   sync.RWMutex
	data map[string]model.Provider
}

func NewMemoryProviderDirectory(providers ...model.Provider) *MemoryProviderDirectory {
	d := &MemoryProviderDirectory{data: make(map[string]model.Provider)}
	for _, p := range providers {
		d.data[p.ID] = p
	}
	return d
}

func (d *MemoryProviderDirectory) Get(_ context.Context, id string) (model.Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.data[id]
	if !ok {
		return model.Provider{}, apperr.NotFound("providers.get", "provider %s", id)
	}
	return p, nil
}

func (d *MemoryProviderDirectory) Put(_ context.Context, p model.Provider) error {
	if p.ID == "" {
		return apperr.Validation("providers.put", "provider id required")
	}
	d.mu.Lock()
	d.data[p.ID] = p
	d.mu.Unlock()
	return nil
}

func (d *MemoryProviderDirectory) List(_ context.Context) ([]model.Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Provider, 0, len(d.data))
	for _, p := range d.data {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *MemoryProviderDirectory) Mutate(_ context.Context, id string, fn func(*model.Provider) error) (model.Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.data[id]
	if !ok {
		return model.Provider{}, apperr.NotFound("providers.mutate", "provider %s", id)
	}
	if err := fn(&p); err != nil {
		return model.Provider{}, err
	}
	d.data[id] = p
	return p, nil
}

// MemoryAppointmentStore keeps appointments in memory.
type MemoryAppointmentStore struct {
	mu   sync.Mutex
	data map[string]model.Appointment
}

func NewMemoryAppointmentStore(appts ...model.Appointment) *MemoryAppointmentStore {
	s := &MemoryAppointmentStore{data: make(map[string]model.Appointment)}
	for _, a := range appts {
		s.data[a.ID] = a
	}
	return s
}

func (s *MemoryAppointmentStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointments.get", "appointment %s", id)
	}
	return a, nil
}

func (s *MemoryAppointmentStore) Put(_ context.Context, a model.Appointment) error {
	if a.ID == "" {
		return apperr.Validation("appointments.put", "appointment id required")
	}
	s.mu.Lock()
	s.data[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *MemoryAppointmentStore) Mutate(_ context.Context, id string, fn func(*model.Appointment) error) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointments.mutate", "appointment %s", id)
	}
	if err := fn(&a); err != nil {
		return model.Appointment{}, err
	}
	s.data[id] = a
	return a, nil
}
