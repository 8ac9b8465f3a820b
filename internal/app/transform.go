package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"parler_dump/internal/archive"

	"golang.org/x/sync/errgroup"
)

// ErrAbandoned is returned when cancelled workers did not finish within the
// shutdown grace period.
var ErrAbandoned = errors.New("workers abandoned after shutdown grace period")

// ExtractFunc turns one archive entry into a record. It runs on many
// goroutines at once.
type ExtractFunc func(archive.Entry) (any, error)

type TransformJob struct {
	Source  archive.Reader
	Output  io.Writer
	Extract ExtractFunc
	Workers int
	Grace   time.Duration
	Logger  *slog.Logger
}

type Stats struct {
	Entries   int64
	Written   int64
	Skipped   int64
	Cancelled bool
	Elapsed   time.Duration
}

func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// Transform walks the archive with one dispatcher, extracts entries on a
// pool of workers and writes every record through a single sink. Records
// come out in no particular order.
func Transform(ctx context.Context, job TransformJob) (Stats, error) {
	start := time.Now()
	logger := job.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := job.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	var (
		dispatched atomic.Int64
		failed     atomic.Int64
	)
	entries := make(chan archive.Entry)
	records := make(chan any, workers)

	sink := NewSink(job.Output, logger)
	sinkDone := make(chan struct{})
	go func() {
		defer close(sinkDone)
		sink.Run(records)
	}()

	var g errgroup.Group
	g.Go(func() error {
		defer close(entries)
		for {
			if ctx.Err() != nil {
				return nil
			}
			e, err := job.Source.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case entries <- e:
				dispatched.Add(1)
			case <-ctx.Done():
				return nil
			}
		}
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for e := range entries {
				rec, err := safeExtract(job.Extract, e)
				if err != nil {
					failed.Add(1)
					logger.Warn("skipping entry", "entry", e.Name, "error", err)
					continue
				}
				records <- rec
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		close(records)
		<-sinkDone
		done <- err
	}()

	var err error
	abandoned := false
	select {
	case err = <-done:
	case <-ctx.Done():
		logger.Warn("interrupted, waiting for in-flight entries", "grace", job.Grace)
		select {
		case err = <-done:
		case <-time.After(job.Grace):
			abandoned = true
		}
	}

	stats := Stats{
		Entries:   dispatched.Load(),
		Written:   sink.Written(),
		Skipped:   failed.Load() + sink.Skipped(),
		Cancelled: ctx.Err() != nil,
		Elapsed:   time.Since(start),
	}

	switch {
	case err != nil:
		return stats, err
	case abandoned:
		return stats, ErrAbandoned
	case sink.Err() != nil:
		return stats, sink.Err()
	case stats.Cancelled:
		return stats, ctx.Err()
	}
	return stats, nil
}

func safeExtract(extract ExtractFunc, e archive.Entry) (rec any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return extract(e)
}
