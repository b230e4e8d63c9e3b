// Package dispatch exposes the dispatch audit log over HTTP.
package dispatch

import (
	"net/http"
	"time"

	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/pkg/export"
)

// NewLogHandler returns an HTTP handler exposing dispatch transitions.
// Supported query parameters: start, end (RFC3339), request_id, provider_id,
// status and format (json or csv). Authorization is left to the router.
func NewLogHandler(store logging.LogStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := r.URL.Query()
		q := logging.LogQuery{
			RequestID:  v.Get("request_id"),
			ProviderID: v.Get("provider_id"),
			Status:     model.Status(v.Get("status")),
		}
		for _, p := range []struct {
			key string
			dst *time.Time
		}{{"start", &q.Start}, {"end", &q.End}} {
			s := v.Get(p.key)
			if s == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				http.Error(w, "invalid "+p.key+": "+err.Error(), http.StatusBadRequest)
				return
			}
			*p.dst = t
		}
		format := v.Get("format")
		if format != "" && format != export.FormatJSON && format != export.FormatCSV {
			http.Error(w, "unknown format "+format, http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if format == export.FormatCSV {
			w.Header().Set("Content-Type", "text/csv")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		if err := export.Write(w, format, records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
