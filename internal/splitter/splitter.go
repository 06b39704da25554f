// Package splitter routes the records of one table file into per-key output
// files.
//
// For every repaired record the routing columns are mapped (optionally
// through a lookup index). A record whose mapped values are all non-empty is
// appended to "{values joined by -}_{source stem}.{tsv|csv}" in the output
// directory; any other record is skipped. Outputs become visible only when
// the whole source has been read.
package splitter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabsplit/internal/anomaly"
	"tabsplit/internal/buffer"
	"tabsplit/internal/config"
	"tabsplit/internal/datasource"
	"tabsplit/internal/datasource/file"
	"tabsplit/internal/fieldmap"
	"tabsplit/internal/lookup"
	"tabsplit/internal/metrics"
	"tabsplit/internal/parser/tsv"
	"tabsplit/internal/progress"
)

// Settings carries the job-wide parts of a split.
type Settings struct {
	// Job labels metrics and logs.
	Job string
	// OutputDir receives the outputs. Empty means the source's directory.
	OutputDir string
	// Buffer tunes the output buffer.
	Buffer config.Buffer
	// RetryDelay is the first pause between finalize attempts.
	RetryDelay time.Duration
	// Index resolves mapped values; nil routes on raw values.
	Index lookup.Index
	// OnAnomaly additionally receives every anomaly, e.g. an anomaly.Log.
	OnAnomaly anomaly.Handler
	// Progress, when set, is advanced by the byte length of each record.
	Progress *progress.Counter
	// Verbose logs every anomaly.
	Verbose bool
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Summary reports the outcome of one split.
type Summary struct {
	RunID  string
	Table  string
	Source string

	// Missing is set when the source file did not exist.
	Missing bool

	Read      int64
	Routed    int64
	Skipped   int64
	Anomalies anomaly.Counts

	// BytesRead is the delimiter-joined length of every record plus one
	// newline each; SourceBytes is the size of the file.
	BytesRead   int64
	SourceBytes int64

	Outputs  []buffer.Output
	Duration time.Duration
}

// Extension returns the output file extension for delim.
func Extension(delim rune) string {
	if delim == '\t' {
		return "tsv"
	}
	return "csv"
}

// Destination returns the output file name for mapped values read from a
// source with the given stem.
func Destination(vals []string, stem string, delim rune) string {
	return strings.Join(vals, "-") + "_" + stem + "." + Extension(delim)
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// recordBytes is the byte length of rec joined by delim, plus a newline.
func recordBytes(rec []string, delim string) int64 {
	var n int64
	if len(rec) > 1 {
		n = int64((len(rec) - 1) * len(delim))
	}
	for _, f := range rec {
		n += int64(len(f))
	}
	return n + 1
}

// Split reads t to the end and routes its records. A missing source is not an
// error: it is logged and yields an empty Summary with Missing set. When ctx
// is canceled Split stops between records and returns ctx.Err() without
// finalizing, so earlier outputs stay in place and this run's partial data
// stays in ".part" files.
func Split(ctx context.Context, t config.Table, s Settings) (sum Summary, err error) {
	start := time.Now()
	lg := s.Logger
	if lg == nil {
		lg = log.Default()
	}
	label := t.Label()
	delim := t.DelimiterRune()
	delimStr := string(delim)

	sum = Summary{
		RunID:     uuid.NewString(),
		Table:     label,
		Source:    t.Path,
		Anomalies: anomaly.Counts{},
	}
	var flushFailures int
	defer func() {
		sum.Duration = time.Since(start)
		record(s.Job, sum, flushFailures, err)
	}()

	onAnomaly := func(a anomaly.Anomaly) {
		sum.Anomalies[a.Kind]++
		if s.Verbose {
			lg.Printf("splitter: anomaly run=%s %s", sum.RunID, a)
		}
		if s.OnAnomaly != nil {
			s.OnAnomaly(a)
		}
	}

	var src datasource.Source = file.NewLocal(t.Path)
	if sz, ok := src.(datasource.Sizer); ok {
		sum.SourceBytes = sz.Size()
	}
	r, err := tsv.Open(ctx, src, tsv.Options{
		Delimiter:          delim,
		TextCol:            t.TextCol,
		StripBOM:           t.Parser.Bool("strip_bom", true),
		ReplaceInvalidUTF8: t.Parser.Bool("replace_invalid_utf8", false),
		Table:              label,
		OnAnomaly:          onAnomaly,
	})
	if errors.Is(err, file.ErrMissingSource) {
		lg.Printf("splitter: missing source table=%s path=%s; nothing to split", label, t.Path)
		sum.Missing = true
		return sum, nil
	}
	if err != nil {
		return sum, err
	}
	defer r.Close()

	outDir := s.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(t.Path)
	}
	buf, err := buffer.New(buffer.Options{
		Dir:              outDir,
		Delimiter:        delim,
		MaxBytes:         s.Buffer.MaxBytes,
		Sync:             s.Buffer.Sync,
		FinalizeAttempts: s.Buffer.FinalizeAttempts,
		RetryDelay:       s.RetryDelay,
		Job:              s.Job,
		Table:            label,
		Logger:           lg,
	})
	if err != nil {
		return sum, err
	}
	defer func() { flushFailures = buf.Stats().FailedFlushes }()

	mapper := fieldmap.Mapper{
		Columns: t.Columns,
		Index:   s.Index,
		IntKey:  t.IntKey,
		Table:   label,
		OnAnomaly: func(a anomaly.Anomaly) {
			a.Detail = fmt.Sprintf("record %d: %s", sum.Read, a.Detail)
			onAnomaly(a)
		},
	}
	stem := Stem(t.Path)
	blocked := map[string]struct{}{}
	s.Progress.Reset(label, sum.SourceBytes)

	lg.Printf("splitter: start run=%s table=%s path=%s out=%s", sum.RunID, label, t.Path, outDir)
	for r.Next() {
		if err := ctx.Err(); err != nil {
			lg.Printf("splitter: canceled run=%s table=%s read=%d", sum.RunID, label, sum.Read)
			return sum, err
		}
		rec := r.Record()
		sum.Read++
		n := recordBytes(rec, delimStr)
		sum.BytesRead += n
		s.Progress.Add(n)

		vals := mapper.Map(rec)
		if !fieldmap.Complete(vals) {
			sum.Skipped++
			continue
		}
		key := Destination(vals, stem, delim)
		if !buffer.ValidKey(key) {
			onAnomaly(anomaly.Anomaly{
				Kind:   anomaly.UnsafeDestination,
				Table:  label,
				Detail: fmt.Sprintf("record %d: %q", sum.Read, key),
			})
			sum.Skipped++
			continue
		}
		if _, ok := blocked[key]; ok {
			sum.Skipped++
			continue
		}
		if err := buf.Add(rec, key); err != nil {
			if !errors.Is(err, buffer.ErrStaleOutput) {
				return sum, err
			}
			// Leave the old file alone and keep routing the other keys.
			blocked[key] = struct{}{}
			onAnomaly(anomaly.Anomaly{
				Kind:   anomaly.StaleOutput,
				Table:  label,
				Detail: fmt.Sprintf("record %d: %v", sum.Read, err),
			})
			sum.Skipped++
			continue
		}
		sum.Routed++
	}
	if err := r.Err(); err != nil {
		return sum, fmt.Errorf("split %s: %w", label, err)
	}

	outs, err := buf.Finalize()
	sum.Outputs = outs
	if err != nil {
		return sum, err
	}
	lg.Printf("splitter: done run=%s table=%s read=%d routed=%d skipped=%d anomalies=%d outputs=%d",
		sum.RunID, label, sum.Read, sum.Routed, sum.Skipped, sum.Anomalies.Total(), len(outs))
	return sum, nil
}

func record(job string, sum Summary, flushFailures int, err error) {
	metrics.RecordStep(job, sum.Table, err, sum.Duration)
	metrics.RecordRow(job, sum.Table, "read", sum.Read)
	metrics.RecordRow(job, sum.Table, "routed", sum.Routed)
	metrics.RecordRow(job, sum.Table, "skipped", sum.Skipped)
	metrics.RecordRow(job, sum.Table, "bytes", sum.BytesRead)
	metrics.RecordRow(job, sum.Table, "flush_failures", int64(flushFailures))
	for kind, n := range sum.Anomalies {
		metrics.RecordRow(job, sum.Table, string(kind), int64(n))
	}
}
