// Package tsv reads delimiter-separated table files that carry no quoting
// convention, repairing the rows that free text breaks apart.
//
// One column, the text field, may contain the delimiter or span several
// physical lines. The reader splits every line on the delimiter and then:
//
//   - rejoins surplus fields into the text field when a line has more fields
//     than the first line did,
//   - starts a new record when a line has exactly that many fields,
//   - appends a lone field, or a blank line, to the last field of the record
//     being accumulated,
//   - drops anything else and reports it as a malformed-row anomaly.
//
// A record is only emitted once the next full row (or end of input) proves it
// complete, so memory holds at most one pending record.
package tsv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"tabsplit/internal/anomaly"
	"tabsplit/internal/datasource"
)

// DefaultDelimiter separates fields when Options.Delimiter is zero.
const DefaultDelimiter = '\t'

// maxDetail bounds the raw line excerpt copied into anomaly details.
const maxDetail = 200

// Options configures a Reader.
type Options struct {
	// Delimiter separates fields. Zero means DefaultDelimiter.
	Delimiter rune

	// TextCol designates the field allowed to contain delimiters. Negative
	// values count from the end (-1 is the last column). Nil disables
	// overflow merging.
	TextCol *int

	// StripBOM removes a UTF-8 byte order mark from the first line.
	StripBOM bool

	// ReplaceInvalidUTF8 substitutes U+FFFD for ill-formed byte sequences.
	ReplaceInvalidUTF8 bool

	// Table labels anomalies.
	Table string

	// OnAnomaly receives dropped rows. Nil discards them.
	OnAnomaly anomaly.Handler
}

// TextCol returns a pointer to i, for use in Options literals.
func TextCol(i int) *int { return &i }

type state int

const (
	awaitingFirst state = iota
	accumulating
	done
)

// Reader yields repaired records from a raw line stream. It is forward-only
// and single-pass: once Next returns false the reader is exhausted and the
// source has to be reopened to read it again.
type Reader struct {
	br      *bufio.Reader
	closer  io.Closer
	delim   string
	opt     Options
	textCol int // -1 when overflow merging is off

	st      state
	nbCols  int
	pending []string
	rec     []string

	line      int
	malformed int
	err       error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opt Options) *Reader {
	if opt.Delimiter == 0 {
		opt.Delimiter = DefaultDelimiter
	}
	if opt.ReplaceInvalidUTF8 {
		r = transform.NewReader(r, runes.ReplaceIllFormed())
	}
	return &Reader{
		br:      bufio.NewReaderSize(r, 64*1024),
		delim:   string(opt.Delimiter),
		opt:     opt,
		textCol: -1,
	}
}

// Open opens src and returns a Reader over it. The caller must Close the
// reader. When the source does not exist the returned error matches
// file.ErrMissingSource and no reader is returned, which callers treat as
// "no records" rather than a failure.
func Open(ctx context.Context, src datasource.Source, opt Options) (*Reader, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	r := NewReader(rc, opt)
	r.closer = rc
	return r, nil
}

// Next advances to the next repaired record. It returns false at end of
// input or on a read error; Err distinguishes the two.
func (r *Reader) Next() bool {
	for r.st != done {
		line, ok := r.readLine()
		if !ok {
			r.st = done
			if len(r.pending) > 0 {
				r.rec, r.pending = r.pending, nil
				return true
			}
			r.rec = nil
			return false
		}

		fields := r.split(line)
		if r.st == awaitingFirst {
			r.establish(len(fields))
		}
		if r.textCol >= 0 && len(fields) > r.nbCols {
			fields = r.unsplit(fields)
		}

		switch {
		case len(fields) == r.nbCols:
			prev := r.pending
			r.pending = fields
			if len(prev) > 0 {
				r.rec = prev
				return true
			}
		case len(fields) == 1 && len(r.pending) > 0:
			r.pending[len(r.pending)-1] += " " + fields[0]
		case len(fields) == 0 && len(r.pending) > 0:
			r.pending[len(r.pending)-1] += " "
		default:
			r.drop(line, len(fields))
		}
	}
	r.rec = nil
	return false
}

// Record returns the record produced by the last successful Next. The slice
// belongs to the caller.
func (r *Reader) Record() []string { return r.rec }

// Err returns the first non-EOF read error.
func (r *Reader) Err() error { return r.err }

// Columns returns the field count established by the first line, or 0 before
// any line was read.
func (r *Reader) Columns() int { return r.nbCols }

// Line returns the number of physical lines consumed so far.
func (r *Reader) Line() int { return r.line }

// Malformed returns how many physical lines were dropped.
func (r *Reader) Malformed() int { return r.malformed }

// All returns the remaining records as a sequence. Breaking out of the loop
// leaves the reader positioned after the last yielded record.
func (r *Reader) All() iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		for r.Next() {
			if !yield(r.Record()) {
				return
			}
		}
	}
}

// Close releases the underlying source when the reader was built by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}

func (r *Reader) establish(n int) {
	r.nbCols = n
	r.st = accumulating
	if r.opt.TextCol == nil {
		return
	}
	tc := *r.opt.TextCol
	if tc < 0 {
		tc += n
	}
	if tc >= 0 && tc < n {
		r.textCol = tc
	}
}

// readLine returns the next physical line without its terminator.
func (r *Reader) readLine() (string, bool) {
	s, err := r.br.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			r.err = fmt.Errorf("read line %d: %w", r.line+1, err)
			return "", false
		}
		if s == "" {
			return "", false
		}
	}
	r.line++
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	if r.line == 1 && r.opt.StripBOM {
		s = stripBOM(s)
	}
	return s, true
}

// split has no quote awareness. A blank line has no fields at all.
func (r *Reader) split(line string) []string {
	if line == "" {
		return nil
	}
	return strings.Split(line, r.delim)
}

// unsplit folds the surplus fields of an overlong row back into the text
// field, restoring the delimiters that separated them.
func (r *Reader) unsplit(fields []string) []string {
	extra := len(fields) - r.nbCols
	end := r.textCol + extra + 1
	fields[r.textCol] = strings.Join(fields[r.textCol:end], r.delim)
	return append(fields[:r.textCol+1], fields[end:]...)
}

func (r *Reader) drop(line string, n int) {
	r.malformed++
	if r.opt.OnAnomaly == nil {
		return
	}
	if len(line) > maxDetail {
		cut := maxDetail
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut]
	}
	r.opt.OnAnomaly(anomaly.Anomaly{
		Kind:   anomaly.MalformedRow,
		Table:  r.opt.Table,
		Line:   r.line,
		Detail: fmt.Sprintf("%d fields, want %d: %q", n, r.nbCols, line),
	})
}
