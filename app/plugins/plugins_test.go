package plugins

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/vetdispatch/config"
	dispatchlog "github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/model"
)

func TestNewStores(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			s, err := NewStores(config.StoreConfig{Backend: backend, Path: filepath.Join(t.TempDir(), "vd.db")})
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			require.NoError(t, s.Providers.Put(ctx, model.Provider{ID: "v1", Approved: true}))
			p, err := s.Providers.Get(ctx, "v1")
			require.NoError(t, err)
			assert.True(t, p.Approved)
		})
	}

	_, err := NewStores(config.StoreConfig{Backend: "redis"})
	assert.ErrorContains(t, err, "memory")
}

func TestNewLogStore(t *testing.T) {
	dir := t.TempDir()
	cases := []config.LoggingConfig{
		{Backend: "jsonl", Path: filepath.Join(dir, "plain.jsonl")},
		{Backend: "jsonl", Path: filepath.Join(dir, "rotating.jsonl"), MaxSizeMB: 1, MaxBackups: 2},
		{Backend: "sqlite", Path: filepath.Join(dir, "log.db")},
	}
	for _, c := range cases {
		s, err := NewLogStore(c)
		require.NoError(t, err, c.Path)
		rec := dispatchlog.TransitionRecord{Timestamp: time.Now().UTC(), RequestID: "r1", From: "pending", To: "offer_outstanding"}
		require.NoError(t, s.Append(context.Background(), rec))
		got, err := s.Query(context.Background(), dispatchlog.LogQuery{RequestID: "r1"})
		require.NoError(t, err)
		assert.Len(t, got, 1, c.Path)
		require.NoError(t, s.Close())
	}

	_, err := NewLogStore(config.LoggingConfig{Backend: "kafka"})
	assert.Error(t, err)
}
