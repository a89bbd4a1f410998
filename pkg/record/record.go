// Package record defines the log event type shared by the loader, index,
// query and stats packages.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultLevel is substituted when a source record carries no level field.
const DefaultLevel = "UNKNOWN"

// Record represents one structured log event plus its source position.
// A zero Timestamp means the source carried no parseable timestamp.
// A nil Payload means the source carried no data field at all; a record
// whose data field was JSON null still counts as having a payload.
type Record struct {
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Level     string          `json:"level"`
	Namespace string          `json:"namespace"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"data,omitempty"`
	Line      int             `json:"line"`
}

// HasTimestamp reports whether the record carries a parsed timestamp.
func (r Record) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// HasPayload reports whether the source record carried a data field.
func (r Record) HasPayload() bool {
	return r.Payload != nil
}

// timeLayouts are tried in order when parsing a timestamp field.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseLine parses one JSONL line into a Record. Field extraction is
// permissive: a missing level becomes DefaultLevel, missing namespace and
// message become empty strings, and a timestamp that fails to parse is left
// unset rather than failing the record. Unrecognized keys are ignored.
// Only a line that is not a JSON object at all is an error.
func ParseLine(line string, lineNum int) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Record{}, fmt.Errorf("line %d: %w", lineNum, err)
	}
	if raw == nil {
		return Record{}, fmt.Errorf("line %d: not a JSON object", lineNum)
	}

	r := Record{
		Level: DefaultLevel,
		Line:  lineNum,
	}

	if s, ok := stringField(raw, "level"); ok && s != "" {
		r.Level = s
	}
	if s, ok := stringField(raw, "namespace"); ok {
		r.Namespace = s
	}
	if s, ok := stringField(raw, "message"); ok {
		r.Message = s
	}
	if s, ok := stringField(raw, "timestamp"); ok {
		r.Timestamp = parseTime(s)
	}
	if data, ok := raw["data"]; ok {
		// Copy so the Record does not alias the scanner's buffer.
		r.Payload = append(json.RawMessage(nil), data...)
	}

	return r, nil
}

// stringField extracts a string-typed field. A field of any other JSON type
// is treated as absent, not as an error.
func stringField(raw map[string]json.RawMessage, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// parseTime returns the zero time when no known layout matches.
func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
