// Package export serializes audit records as newline-delimited JSON and
// archives them to object storage.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/glueful/audit-engine/internal/audit"
)

// ContentType is the media type of an NDJSON export
const ContentType = "application/x-ndjson"

// NDJSONWriter writes one record per line
type NDJSONWriter struct {
	enc    *json.Encoder
	verify bool
	count  int
}

// NewNDJSONWriter creates a writer. With verify set every record is
// re-verified and a tampered record aborts the export.
func NewNDJSONWriter(w io.Writer, verify bool) *NDJSONWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &NDJSONWriter{enc: enc, verify: verify}
}

// Write encodes a record as a single line
func (w *NDJSONWriter) Write(rec *audit.Record) error {
	if w.verify && !rec.Event.VerifyIntegrity() {
		return fmt.Errorf("event %s: %w", rec.Event.EventID, audit.ErrIntegrityViolation)
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode event %s: %w", rec.Event.EventID, err)
	}
	w.count++
	return nil
}

// Count returns the number of records written
func (w *NDJSONWriter) Count() int {
	return w.count
}

// ReadNDJSON decodes an export. Integrity hashes are restored as stored.
func ReadNDJSON(r io.Reader) ([]*audit.Record, error) {
	dec := json.NewDecoder(r)

	var recs []*audit.Record
	for dec.More() {
		var rec audit.Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(recs)+1, err)
		}
		if rec.Event == nil {
			return nil, fmt.Errorf("record %d has no event", len(recs)+1)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}
