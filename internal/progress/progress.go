// Package progress tracks byte progress of a split and reports it
// periodically.
package progress

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Counter counts bytes processed against an expected total. A nil *Counter
// ignores updates, so callers need not check before use.
type Counter struct {
	done  atomic.Int64
	total atomic.Int64
	label atomic.Pointer[string]
}

// Reset starts a new run of total expected bytes.
func (c *Counter) Reset(label string, total int64) {
	if c == nil {
		return
	}
	c.label.Store(&label)
	c.total.Store(total)
	c.done.Store(0)
}

// Add records n processed bytes.
func (c *Counter) Add(n int64) {
	if c == nil {
		return
	}
	c.done.Add(n)
}

// Snapshot returns the current label, done and total.
func (c *Counter) Snapshot() (label string, done, total int64) {
	if c == nil {
		return "", 0, 0
	}
	if p := c.label.Load(); p != nil {
		label = *p
	}
	return label, c.done.Load(), c.total.Load()
}

// Format renders done against total, e.g. "1.2 MB / 3.4 MB (35%)". The
// record-joined byte count can differ slightly from the file size, so the
// percentage is capped at 100.
func Format(done, total int64) string {
	if total <= 0 {
		return humanize.Bytes(uint64(max(done, 0)))
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf("%s / %s (%d%%)", humanize.Bytes(uint64(max(done, 0))), humanize.Bytes(uint64(total)), pct)
}

// Report logs c every interval until ctx is done. It returns nil when ctx
// ends, so it can run as an errgroup member that stops with its siblings.
func Report(ctx context.Context, c *Counter, every time.Duration, lg *log.Logger) error {
	if every <= 0 || c == nil {
		return nil
	}
	if lg == nil {
		lg = log.Default()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			label, done, total := c.Snapshot()
			if label == "" {
				continue
			}
			lg.Printf("progress: table=%s read=%s", label, Format(done, total))
		}
	}
}
