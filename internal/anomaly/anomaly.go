// Package anomaly describes the non-fatal deviations met while splitting a
// table file, and provides a CSV log that records them for later review.
//
// An anomaly never stops processing. Readers and mappers hand them to a
// Handler and carry on with the next row.
package anomaly

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Kind classifies an anomaly.
type Kind string

const (
	// MalformedRow is a physical line that matches none of the repair rules.
	MalformedRow Kind = "malformed_row"
	// MissingColumn is a mapped column index beyond the record length.
	MissingColumn Kind = "missing_column"
	// BadIntKey is a raw value that cannot be coerced to an integer key.
	BadIntKey Kind = "bad_int_key"
	// UnsafeDestination is a derived output name that would escape the
	// output directory.
	UnsafeDestination Kind = "unsafe_destination"
	// StaleOutput is a destination whose previous-run output could not be
	// removed; its records are skipped for the rest of the run.
	StaleOutput Kind = "stale_output"
)

// Anomaly is a single logged deviation. Line is the 1-based physical line
// number in the source, or 0 when unknown.
type Anomaly struct {
	Kind   Kind
	Table  string
	Line   int
	Detail string
}

func (a Anomaly) String() string {
	if a.Line > 0 {
		return fmt.Sprintf("%s: %s line %d: %s", a.Kind, a.Table, a.Line, a.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", a.Kind, a.Table, a.Detail)
}

// Handler receives anomalies as they happen. A nil Handler discards them.
type Handler func(Anomaly)

// Counts tallies anomalies by kind.
type Counts map[Kind]int

// Total returns the number of anomalies across all kinds.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Header is the first row written to every anomaly log.
var Header = []string{"reason", "table", "line_number", "detail"}

// Log appends anomalies to a CSV file and keeps per-kind counters.
// It is not safe for concurrent use.
type Log struct {
	counts Counts
	f      *os.File
	w      *csv.Writer
}

// NewLog creates (or truncates) the CSV file at path, creating missing parent
// directories, and writes the header row.
func NewLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Log{counts: make(Counts), f: f, w: w}, nil
}

// Add records a. Write errors are buffered by csv.Writer and reported by Close.
func (l *Log) Add(a Anomaly) {
	l.counts[a.Kind]++
	_ = l.w.Write([]string{string(a.Kind), a.Table, strconv.Itoa(a.Line), a.Detail})
}

// Counts returns the live per-kind counters.
func (l *Log) Counts() Counts { return l.counts }

// Close flushes pending rows and closes the file. It is safe to call twice.
func (l *Log) Close() error {
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	err := l.w.Error()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
