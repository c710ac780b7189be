// Package cap defines the Civic Audit Protocol record model and its
// structural verification rules.
package cap

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	dErrors "capbridge/pkg/domain-errors"
)

// Record is a CAP record as received on the wire. Outputs, CAPExtensions and
// Integrity are advisor-defined documents; the bridge treats them as opaque
// JSON and leaves their shape to the canonical schema.
type Record struct {
	CAPID           string          `json:"cap_id"`
	Timestamp       string          `json:"timestamp"`
	Domain          string          `json:"domain"`
	ContextMode     string          `json:"context_mode"`
	AdvisorOfRecord string          `json:"advisor_of_record"`
	Outputs         json.RawMessage `json:"outputs,omitempty"`
	CAPExtensions   json.RawMessage `json:"cap_extensions,omitempty"`
	Integrity       json.RawMessage `json:"integrity,omitempty"`
}

// Decode reads a CAP record from r, returning both the parsed record and the
// raw document so schema validation can run against exactly what was sent.
func Decode(r io.Reader) (Record, []byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Record{}, nil, dErrors.New(dErrors.CodeBadRequest, "unreadable request body")
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, nil, dErrors.Newf(dErrors.CodeBadRequest, "malformed JSON: %v", err)
	}
	return rec, raw, nil
}

// Verify enforces the structural requirements every CAP record must meet
// before schema validation runs: required identity fields present and a
// parseable RFC 3339 timestamp.
func (r Record) Verify() error {
	required := []struct {
		name  string
		value string
	}{
		{"cap_id", r.CAPID},
		{"timestamp", r.Timestamp},
		{"domain", r.Domain},
		{"context_mode", r.ContextMode},
		{"advisor_of_record", r.AdvisorOfRecord},
	}
	for _, f := range required {
		if f.value == "" {
			return dErrors.Newf(dErrors.CodeBadRequest, "missing required field %q", f.name)
		}
	}

	if _, err := time.Parse(time.RFC3339, r.Timestamp); err != nil {
		return dErrors.Newf(dErrors.CodeBadRequest, "timestamp is not RFC 3339: %q", r.Timestamp)
	}
	return nil
}

// ParsedTimestamp returns the record timestamp as a time.Time. Callers must
// have run Verify first; errors here indicate a programming mistake.
func (r Record) ParsedTimestamp() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse record timestamp: %w", err)
	}
	return t, nil
}
