// Package export serializes filtered records for download or piping.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"loglens/pkg/record"
	"loglens/pkg/stats"
)

// JSON writes records as an indented JSON array with every field preserved,
// payload included.
func JSON(w io.Writer, records []record.Record) error {
	if records == nil {
		records = []record.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	return nil
}

// StatsJSON writes a statistics snapshot as indented JSON.
func StatsJSON(w io.Writer, s stats.Statistics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding statistics: %w", err)
	}
	return nil
}

// CSV writes records as a flat table with timestamp, level, namespace and
// message columns. Unset timestamps become empty cells.
func CSV(w io.Writer, records []record.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "level", "namespace", "message"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, r := range records {
		ts := ""
		if r.HasTimestamp() {
			ts = r.Timestamp.Format(time.RFC3339)
		}
		if err := cw.Write([]string{ts, r.Level, r.Namespace, r.Message}); err != nil {
			return fmt.Errorf("writing line %d: %w", r.Line, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
