// Package stats computes aggregate statistics over a record sequence.
package stats

import (
	"sort"
	"strings"
	"time"

	"loglens/pkg/record"
)

const (
	// DefaultTopN bounds the per-namespace rankings.
	DefaultTopN = 10
	// DefaultAgentMarker selects agent-emitted namespaces for the activity
	// ranking. Matched case-sensitively.
	DefaultAgentMarker = "Agent"
)

// Options controls the top-N rankings.
type Options struct {
	TopN        int
	AgentMarker string
}

func (o Options) withDefaults() Options {
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.AgentMarker == "" {
		o.AgentMarker = DefaultAgentMarker
	}
	return o
}

// NamespaceCount is one entry of a namespace ranking.
type NamespaceCount struct {
	Namespace string `json:"namespace"`
	Count     int    `json:"count"`
}

// Statistics is a point-in-time snapshot over a record sequence. Zero time
// endpoints mean no record carried a timestamp.
type Statistics struct {
	TotalEntries       int              `json:"total_entries"`
	LevelCounts        map[string]int   `json:"level_counts"`
	TopNamespaces      []NamespaceCount `json:"top_namespaces"`
	EarliestTime       time.Time        `json:"earliest_time,omitzero"`
	LatestTime         time.Time        `json:"latest_time,omitzero"`
	EntriesWithPayload int              `json:"entries_with_payload"`
	AgentActivity      []NamespaceCount `json:"agent_activity"`
}

// Duration returns the span between the earliest and latest timestamps,
// zero when fewer than two records carry one.
func (s Statistics) Duration() time.Duration {
	if s.EarliestTime.IsZero() || s.LatestTime.IsZero() {
		return 0
	}
	return s.LatestTime.Sub(s.EarliestTime)
}

// Compute builds Statistics over records in a single pass, plus one
// sort-and-truncate per ranking. Pure function of its input; an empty
// sequence yields all-zero statistics, never an error.
func Compute(records []record.Record, opts Options) Statistics {
	opts = opts.withDefaults()

	s := Statistics{
		LevelCounts: make(map[string]int),
	}
	nsCounts := make(map[string]int)
	nsFirstSeen := make(map[string]int)

	for _, r := range records {
		s.TotalEntries++
		s.LevelCounts[r.Level]++

		if r.Namespace != "" {
			if _, seen := nsCounts[r.Namespace]; !seen {
				nsFirstSeen[r.Namespace] = len(nsFirstSeen)
			}
			nsCounts[r.Namespace]++
		}

		if r.HasPayload() {
			s.EntriesWithPayload++
		}

		if r.HasTimestamp() {
			if s.EarliestTime.IsZero() || r.Timestamp.Before(s.EarliestTime) {
				s.EarliestTime = r.Timestamp
			}
			if s.LatestTime.IsZero() || r.Timestamp.After(s.LatestTime) {
				s.LatestTime = r.Timestamp
			}
		}
	}

	s.TopNamespaces = topN(nsCounts, nsFirstSeen, opts.TopN, "")
	s.AgentActivity = topN(nsCounts, nsFirstSeen, opts.TopN, opts.AgentMarker)
	return s
}

// topN ranks namespaces by descending count. Ties break by first-seen order
// so the ranking is reproducible for a given input order. A non-empty
// marker restricts the ranking to namespaces containing it, case-sensitively.
func topN(counts, firstSeen map[string]int, n int, marker string) []NamespaceCount {
	ranked := make([]NamespaceCount, 0, len(counts))
	for ns, c := range counts {
		if marker != "" && !strings.Contains(ns, marker) {
			continue
		}
		ranked = append(ranked, NamespaceCount{Namespace: ns, Count: c})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return firstSeen[ranked[i].Namespace] < firstSeen[ranked[j].Namespace]
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
