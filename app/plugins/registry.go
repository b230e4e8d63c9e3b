// Package plugins holds the named backends selectable from configuration.
package plugins

import (
	"fmt"
	"sort"

	"github.com/kilianp07/vetdispatch/config"
	dispatchlog "github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/store"
)

// Stores bundles the persistence of requests, providers and appointments.
type Stores struct {
	Requests     store.RequestStore
	Providers    store.ProviderDirectory
	Appointments store.AppointmentStore
	close        func() error
}

// Close releases the backend.
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// StoreFactory builds the stores of a backend.
type StoreFactory func(cfg config.StoreConfig) (*Stores, error)

// LogStoreFactory builds a transition log store.
type LogStoreFactory func(cfg config.LoggingConfig) (dispatchlog.LogStore, error)

var (
	StoreBackends = map[string]StoreFactory{}
	LogStores     = map[string]LogStoreFactory{}
)

func RegisterStore(name string, f StoreFactory)       { StoreBackends[name] = f }
func RegisterLogStore(name string, f LogStoreFactory) { LogStores[name] = f }

// NewStores builds the stores selected by cfg.Backend.
func NewStores(cfg config.StoreConfig) (*Stores, error) {
	f, ok := StoreBackends[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q (known: %v)", cfg.Backend, names(StoreBackends))
	}
	return f(cfg)
}

// NewLogStore builds the log store selected by cfg.Backend.
func NewLogStore(cfg config.LoggingConfig) (dispatchlog.LogStore, error) {
	f, ok := LogStores[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown log backend %q (known: %v)", cfg.Backend, names(LogStores))
	}
	return f(cfg)
}

func names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
