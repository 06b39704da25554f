package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"tabsplit/internal/anomaly"
	"tabsplit/internal/config"
	"tabsplit/internal/lookup"
	"tabsplit/internal/progress"
	"tabsplit/internal/splitter"
)

type runOptions struct {
	Verbose       bool
	ProgressEvery time.Duration
	RetryDelay    time.Duration
	Logger        *log.Logger
}

// run splits every table of job in order. The progress reporter runs beside
// the split loop in one errgroup and stops when the loop returns. A failed
// table does not stop the remaining ones; cancellation does.
func run(ctx context.Context, job config.Job, o runOptions) ([]splitter.Summary, error) {
	lg := o.Logger
	if lg == nil {
		lg = log.Default()
	}

	var alog *anomaly.Log
	if job.AnomalyLog != "" {
		l, err := anomaly.NewLog(job.AnomalyLog)
		if err != nil {
			return nil, fmt.Errorf("anomaly log: %w", err)
		}
		alog = l
		defer func() {
			if err := alog.Close(); err != nil {
				lg.Printf("anomaly: close log path=%s err=%v", job.AnomalyLog, err)
			}
		}()
	}

	var (
		counter progress.Counter
		sums    []splitter.Summary
		errs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, loopDone := context.WithCancel(gctx)
	defer loopDone()

	g.Go(func() error {
		return progress.Report(loopCtx, &counter, o.ProgressEvery, lg)
	})
	g.Go(func() error {
		defer loopDone()
		for _, t := range job.Tables {
			if err := loopCtx.Err(); err != nil {
				return err
			}

			s := splitter.Settings{
				Job:        job.Job,
				OutputDir:  job.OutputDir,
				Buffer:     job.Buffer,
				RetryDelay: o.RetryDelay,
				Progress:   &counter,
				Verbose:    o.Verbose,
				Logger:     lg,
			}
			if alog != nil {
				s.OnAnomaly = alog.Add
			}
			if t.Index != nil {
				idx, err := lookup.Load(loopCtx, *t.Index)
				if err != nil {
					errs = append(errs, fmt.Errorf("table %s: %w", t.Label(), err))
					continue
				}
				lg.Printf("lookup: loaded table=%s kind=%s entries=%d", t.Label(), t.Index.Kind, len(idx))
				s.Index = idx
			}

			sum, err := splitter.Split(loopCtx, t, s)
			sums = append(sums, sum)
			if errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("table %s: %w", t.Label(), err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return sums, errors.Join(errs...)
}

func printSummary(w io.Writer, s splitter.Summary) {
	if s.Missing {
		fmt.Fprintf(w, "%s: source %s missing, nothing split\n", s.Table, s.Source)
		return
	}
	fmt.Fprintf(w, "%s: read=%d routed=%d skipped=%d anomalies=%d outputs=%d bytes=%s in %s (run %s)\n",
		s.Table, s.Read, s.Routed, s.Skipped, s.Anomalies.Total(), len(s.Outputs),
		humanize.Bytes(uint64(s.BytesRead)), s.Duration.Truncate(time.Millisecond), s.RunID)
}
