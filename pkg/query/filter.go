// Package query applies declarative filters to a loaded index.
package query

import (
	"errors"
	"strings"
	"time"

	"loglens/pkg/index"
	"loglens/pkg/record"
)

// ErrInvalidRange is returned when a filter's time range starts after it ends.
var ErrInvalidRange = errors.New("time range start is after end")

// Filter describes one query. Zero-valued dimensions impose no restriction:
// an empty Levels list admits every level, empty Namespace and Search match
// everything, and zero From/To leave that bound open. Applying a Filter
// never mutates the index.
type Filter struct {
	Levels    []string  `json:"levels,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
	Search    string    `json:"search,omitempty"`
	From      time.Time `json:"from,omitzero"`
	To        time.Time `json:"to,omitzero"`
}

// IsZero reports whether the filter imposes no restriction at all.
func (f Filter) IsZero() bool {
	return len(f.Levels) == 0 && f.Namespace == "" && f.Search == "" &&
		f.From.IsZero() && f.To.IsZero()
}

// Validate rejects impossible filters before any scan runs.
func (f Filter) Validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return ErrInvalidRange
	}
	return nil
}

// Apply returns the records of idx that satisfy every active dimension of f,
// in original load order. All predicates are conjunctive; ordering among
// matches is stable.
func Apply(idx *index.Index, f Filter) ([]record.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var levelSet map[string]struct{}
	if len(f.Levels) > 0 {
		levelSet = make(map[string]struct{}, len(f.Levels))
		for _, l := range f.Levels {
			levelSet[l] = struct{}{}
		}
	}
	nsNeedle := strings.ToLower(f.Namespace)
	searchNeedle := strings.ToLower(f.Search)
	timeBound := !f.From.IsZero() || !f.To.IsZero()

	var matches []record.Record
	for _, r := range idx.All() {
		if levelSet != nil {
			if _, ok := levelSet[r.Level]; !ok {
				continue
			}
		}
		if nsNeedle != "" && !strings.Contains(strings.ToLower(r.Namespace), nsNeedle) {
			continue
		}
		if searchNeedle != "" && !matchesSearch(r, searchNeedle) {
			continue
		}
		if timeBound {
			// A record without a timestamp cannot be known to fall in range.
			if !r.HasTimestamp() {
				continue
			}
			if !f.From.IsZero() && r.Timestamp.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && r.Timestamp.After(f.To) {
				continue
			}
		}
		matches = append(matches, r)
	}
	return matches, nil
}

// matchesSearch checks the message first and falls back to the serialized
// payload only on a miss, so the payload scan is paid only by records whose
// message did not match. An absent payload never matches.
func matchesSearch(r record.Record, needle string) bool {
	if strings.Contains(strings.ToLower(r.Message), needle) {
		return true
	}
	if !r.HasPayload() {
		return false
	}
	return strings.Contains(strings.ToLower(string(r.Payload)), needle)
}
