// Package loader reads newline-delimited JSON log files into records,
// tolerating malformed lines.
package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"loglens/pkg/record"
)

// DefaultMaxLineSize is the largest line the loader will accept.
const DefaultMaxLineSize = 1024 * 1024 // 1MB

// Skip describes one malformed line that was passed over during a load.
type Skip struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result holds the outcome of a load: the parsed records in source order and
// the lines that could not be parsed. Skipped lines never fail the load.
type Result struct {
	Records []record.Record `json:"records"`
	Skipped []Skip          `json:"skipped,omitempty"`
}

// SkipCount returns the number of malformed lines passed over.
func (r *Result) SkipCount() int {
	return len(r.Skipped)
}

// Loader reads JSONL sources.
type Loader struct {
	maxLineSize int
}

// New creates a Loader. maxLineSize <= 0 selects DefaultMaxLineSize.
func New(maxLineSize int) *Loader {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	return &Loader{maxLineSize: maxLineSize}
}

// Load reads the file at path. An unreadable file is a fatal error and
// yields no records; malformed lines within a readable file are skipped.
func (l *Loader) Load(path string) (*Result, error) {
	f, err := os.Open(path) // #nosec G304 -- user-provided paths are expected
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	defer f.Close()

	res, err := l.LoadReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return res, nil
}

// LoadReader reads JSONL from r. Line numbers are 1-based over every line
// in the source, including empty and malformed ones. Empty lines are
// ignored silently; non-empty lines that fail to parse are recorded as
// skips and processing continues.
func (l *Loader) LoadReader(r io.Reader) (*Result, error) {
	scanner := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > l.maxLineSize {
		initial = l.maxLineSize
	}
	scanner.Buffer(make([]byte, 0, initial), l.maxLineSize)

	res := &Result{}
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := record.ParseLine(line, lineNum)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{Line: lineNum, Reason: err.Error()})
			continue
		}
		res.Records = append(res.Records, rec)
	}

	// A scanner error (including a line over the size cap) means the rest
	// of the source cannot be trusted; report it as a failed load.
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return res, nil
}
