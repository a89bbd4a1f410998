// Package index holds the queryable in-memory collection built from one
// load. An Index is built once and read exclusively afterwards; a new load
// replaces it wholesale.
package index

import (
	"sort"

	"loglens/pkg/record"
)

// Index is an ordered sequence of records plus the distinct level and
// namespace values used to populate filter-option lists.
type Index struct {
	records    []record.Record
	levels     []string
	namespaces []string
}

// Build constructs an Index from records in load order. O(n) over the input.
func Build(records []record.Record) *Index {
	levelSet := make(map[string]struct{})
	nsSet := make(map[string]struct{})
	for _, r := range records {
		levelSet[r.Level] = struct{}{}
		if r.Namespace != "" {
			nsSet[r.Namespace] = struct{}{}
		}
	}

	return &Index{
		records:    records,
		levels:     sortedKeys(levelSet),
		namespaces: sortedKeys(nsSet),
	}
}

// All returns the records in original load order. The caller must not
// mutate the returned slice.
func (i *Index) All() []record.Record {
	return i.records
}

// Len returns the number of records in the index.
func (i *Index) Len() int {
	return len(i.records)
}

// Levels returns the distinct level values, sorted.
func (i *Index) Levels() []string {
	return i.levels
}

// Namespaces returns the distinct non-empty namespace values, sorted.
func (i *Index) Namespaces() []string {
	return i.namespaces
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
