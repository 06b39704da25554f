// Package buffer routes records to many output files while holding a bounded
// amount of data in memory per file.
//
// Each destination key names one file under Options.Dir. Records queue in
// memory until the queue's estimated size passes Options.MaxBytes, then they
// are appended to "<key>.part". Finalize flushes whatever is left and renames
// every ".part" file to its final name, so a final file only ever holds the
// complete output of one run.
package buffer

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"tabsplit/internal/metrics"
)

// PartSuffix marks a file that is still being written.
const PartSuffix = ".part"

// DefaultMaxBytes is the per-destination flush threshold used when
// Options.MaxBytes is not positive.
const DefaultMaxBytes = 1 << 20

// maxBackoffShift caps the threshold growth after repeated flush failures.
const maxBackoffShift = 10

var (
	// ErrFinalized is returned by Add once Finalize has been called.
	ErrFinalized = errors.New("buffer: finalized")

	// ErrUnsafeKey is returned by Add for keys that are not a plain file
	// name inside the output directory.
	ErrUnsafeKey = errors.New("buffer: unsafe destination key")

	// ErrStaleOutput is returned by Add when output left by an earlier run
	// for a new key cannot be removed. The key is not claimed and its record
	// is not queued.
	ErrStaleOutput = errors.New("buffer: cannot remove stale output")
)

// Options configures a Buffer.
type Options struct {
	// Dir receives the output files. It is created if missing.
	Dir string

	// Delimiter joins the fields of a record. Zero means a tab.
	Delimiter rune

	// MaxBytes is the estimated queue size that triggers a flush.
	MaxBytes int64

	// Sync fsyncs after every flush.
	Sync bool

	// FinalizeAttempts bounds the flush retries of each destination during
	// Finalize. Values below one mean one attempt.
	FinalizeAttempts int

	// RetryDelay is the first pause between Finalize attempts; it doubles on
	// each further attempt.
	RetryDelay time.Duration

	// Job and Table label metrics and log lines.
	Job   string
	Table string

	// Logger receives flush diagnostics. Nil means log.Default().
	Logger *log.Logger
}

// Output describes one finalized file.
type Output struct {
	Key      string
	Path     string
	Records  int64
	Bytes    int64
	Checksum uint64 // xxh3 of the file contents
}

// Stats is a point-in-time view of a Buffer.
type Stats struct {
	Destinations   int
	PendingRecords int
	PendingBytes   int64 // estimated
	Flushes        int
	FailedFlushes  int
}

// file is the subset of *os.File a flush needs.
type file interface {
	Write(p []byte) (int, error)
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Close() error
}

func openAppend(name string) (file, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type dest struct {
	key   string
	queue [][]string
	size  int64

	records  int64
	bytes    int64
	hash     *xxh3.Hasher
	failures int
	done     bool
}

// Buffer is a MultiplexedBuffer. A split run drives it from a single
// goroutine; the mutex only lets Stats be read from another one.
type Buffer struct {
	opt   Options
	delim string
	log   *log.Logger

	mu        sync.Mutex
	dests     map[string]*dest
	order     []string
	finalized bool
	flushes   int
	failed    int

	// Seams for tests.
	openFile func(name string) (file, error)
	sleep    func(time.Duration)
}

// New returns an empty Buffer writing under opt.Dir.
func New(opt Options) (*Buffer, error) {
	if opt.Dir == "" {
		return nil, fmt.Errorf("buffer: output directory is required")
	}
	if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("buffer: create %s: %w", opt.Dir, err)
	}
	if opt.Delimiter == 0 {
		opt.Delimiter = '\t'
	}
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.FinalizeAttempts < 1 {
		opt.FinalizeAttempts = 1
	}
	lg := opt.Logger
	if lg == nil {
		lg = log.Default()
	}
	return &Buffer{
		opt:      opt,
		delim:    string(opt.Delimiter),
		log:      lg,
		dests:    map[string]*dest{},
		openFile: openAppend,
		sleep:    time.Sleep,
	}, nil
}

// EstimateSize approximates the in-memory footprint of rec: a slice header
// plus a string header and the bytes of every field.
func EstimateSize(rec []string) int64 {
	n := int64(24)
	for _, f := range rec {
		n += 16 + int64(len(f))
	}
	return n
}

// ValidKey reports whether key is usable as a file name directly inside the
// output directory.
func ValidKey(key string) bool {
	switch key {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}

// Path returns the final path of key.
func (b *Buffer) Path(key string) string { return filepath.Join(b.opt.Dir, key) }

func (b *Buffer) partPath(key string) string { return b.Path(key) + PartSuffix }

// Add queues rec for key and flushes the key's queue once it grows past the
// threshold. A failed flush keeps the queue and doubles the threshold for
// that key; the failure is logged rather than returned, and retried by later
// flushes and by Finalize.
func (b *Buffer) Add(rec []string, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return ErrFinalized
	}
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}

	d, ok := b.dests[key]
	if !ok {
		if err := b.clearStale(key); err != nil {
			return err
		}
		d = &dest{key: key, hash: xxh3.New()}
		b.dests[key] = d
		b.order = append(b.order, key)
	}

	d.queue = append(d.queue, rec)
	d.size += EstimateSize(rec)
	if d.size > b.threshold(d) {
		_ = b.flush(d)
	}
	return nil
}

// Flush writes the queue of key, if any, to its in-progress file.
func (b *Buffer) Flush(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.dests[key]
	if !ok {
		return nil
	}
	return b.flush(d)
}

// Finalize flushes every destination, retrying each up to FinalizeAttempts
// times, and renames the in-progress files to their final names. It returns
// the manifest of all finalized destinations in first-seen order.
//
// Destinations that still fail keep their queue and in-progress file and are
// reported in the joined error; calling Finalize again retries only those.
func (b *Buffer) Finalize() ([]Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finalized = true

	var errs []error
	for _, key := range b.order {
		d := b.dests[key]
		if d.done {
			continue
		}

		var err error
		for attempt := 0; attempt < b.opt.FinalizeAttempts; attempt++ {
			if attempt > 0 && b.opt.RetryDelay > 0 {
				b.sleep(b.opt.RetryDelay << (attempt - 1))
			}
			if err = b.flush(d); err == nil {
				break
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("finalize %s: %w", key, err))
			continue
		}

		if err := os.Rename(b.partPath(key), b.Path(key)); err != nil {
			errs = append(errs, fmt.Errorf("finalize %s: %w", key, err))
			continue
		}
		d.done = true
	}

	var out []Output
	for _, key := range b.order {
		d := b.dests[key]
		if !d.done {
			continue
		}
		out = append(out, Output{
			Key:      key,
			Path:     b.Path(key),
			Records:  d.records,
			Bytes:    d.bytes,
			Checksum: d.hash.Sum64(),
		})
	}
	return out, errors.Join(errs...)
}

// Stats returns current counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Destinations:  len(b.dests),
		Flushes:       b.flushes,
		FailedFlushes: b.failed,
	}
	for _, d := range b.dests {
		s.PendingRecords += len(d.queue)
		s.PendingBytes += d.size
	}
	return s
}

func (b *Buffer) threshold(d *dest) int64 {
	shift := d.failures
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return b.opt.MaxBytes << shift
}

// clearStale removes output left by an earlier run for key, so this run's
// records never mix with it.
func (b *Buffer) clearStale(key string) error {
	for _, p := range []string{b.Path(key), b.partPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w %s: %w", ErrStaleOutput, p, err)
		}
	}
	return nil
}

func (b *Buffer) flush(d *dest) error {
	if len(d.queue) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, rec := range d.queue {
		sb.WriteString(strings.Join(rec, b.delim))
		sb.WriteByte('\n')
	}
	payload := []byte(sb.String())

	path := b.partPath(d.key)
	err := b.appendPayload(path, payload)
	b.flushes++
	metrics.RecordFlush(b.opt.Job, b.opt.Table, err)
	if err != nil {
		d.failures++
		b.failed++
		b.log.Printf("buffer: flush failed table=%s key=%s records=%d failures=%d err=%v",
			b.opt.Table, d.key, len(d.queue), d.failures, err)
		return err
	}

	_, _ = d.hash.Write(payload)
	d.records += int64(len(d.queue))
	d.bytes += int64(len(payload))
	d.queue = nil
	d.size = 0
	d.failures = 0
	return nil
}

// appendPayload appends payload to path. On failure the file is truncated
// back to its previous size so a retry does not duplicate records.
func (b *Buffer) appendPayload(path string, payload []byte) error {
	f, err := b.openFile(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	before := info.Size()

	_, err = f.Write(payload)
	if err == nil && b.opt.Sync {
		err = f.Sync()
	}
	if err != nil {
		if terr := f.Truncate(before); terr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", terr))
		}
		_ = f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		if terr := os.Truncate(path, before); terr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", terr))
		}
		return err
	}
	return nil
}
