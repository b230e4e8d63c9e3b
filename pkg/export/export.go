// Package export writes audit transition records in interchange formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
)

// Formats supported by Write.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write encodes records in the named format.
func Write(w io.Writer, format string, records []logging.TransitionRecord) error {
	switch format {
	case "", FormatJSON:
		return WriteJSON(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("export: unknown format %q", format)
	}
}

// WriteJSON writes the records as a JSON array.
func WriteJSON(w io.Writer, records []logging.TransitionRecord) error {
	if records == nil {
		records = []logging.TransitionRecord{}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(records)
}

// WriteCSV writes the records with a header row.
func WriteCSV(w io.Writer, records []logging.TransitionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "request_id", "from", "to", "provider_id", "reason", "attempt"}); err != nil {
		return err
	}
	for _, r := range records {
		rec := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.RequestID,
			string(r.From),
			string(r.To),
			r.ProviderID,
			r.Reason,
			strconv.Itoa(r.Attempt),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
