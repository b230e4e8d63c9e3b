package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/model"
)

type memStore struct{ recs []logging.TransitionRecord }

func (m *memStore) Append(_ context.Context, r logging.TransitionRecord) error {
	m.recs = append(m.recs, r)
	return nil
}

func (m *memStore) Query(_ context.Context, q logging.LogQuery) ([]logging.TransitionRecord, error) {
	var res []logging.TransitionRecord
	for _, r := range m.recs {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *memStore) Close() error { return nil }

func seeded(t *testing.T) *memStore {
	t.Helper()
	store := &memStore{}
	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, r := range []logging.TransitionRecord{
		{Timestamp: ts, RequestID: "r1", From: model.StatusPending, To: model.StatusOfferOutstanding, ProviderID: "v1", Attempt: 1},
		{Timestamp: ts.Add(time.Minute), RequestID: "r2", From: model.StatusPending, To: model.StatusExhausted},
	} {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return store
}

func TestLogHandler_Filters(t *testing.T) {
	h := NewLogHandler(seeded(t))

	req := httptest.NewRequest("GET", "/api/v1/dispatch/logs?provider_id=v1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var recs []logging.TransitionRecord
	if err := json.NewDecoder(rr.Body).Decode(&recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].RequestID != "r1" {
		t.Fatalf("unexpected records %+v", recs)
	}

	req = httptest.NewRequest("GET", "/api/v1/dispatch/logs?status=exhausted&start=2025-03-01T08:00:30Z", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	recs = nil
	if err := json.NewDecoder(rr.Body).Decode(&recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].RequestID != "r2" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestLogHandler_CSV(t *testing.T) {
	h := NewLogHandler(seeded(t))
	req := httptest.NewRequest("GET", "/api/v1/dispatch/logs?format=csv&request_id=r2", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "text/csv" {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "r2,pending,exhausted") {
		t.Fatalf("unexpected csv %q", rr.Body.String())
	}
}

func TestLogHandler_BadInput(t *testing.T) {
	h := NewLogHandler(seeded(t))
	for _, url := range []string{
		"/api/v1/dispatch/logs?start=yesterday",
		"/api/v1/dispatch/logs?format=xml",
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", url, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rr.Code)
		}
	}
}
