package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"parler_dump/internal/archive"
	"parler_dump/internal/config"
	"parler_dump/internal/extract"
	"parler_dump/internal/loader"
	"parler_dump/internal/models"
	"parler_dump/internal/timestamp"
)

const (
	RunSuccess   = "success"
	RunError     = "error"
	RunCancelled = "cancelled"
)

// Ledger remembers runs and which inputs have already been loaded.
type Ledger interface {
	RecordRun(ctx context.Context, run *models.RunRecord) error
	IsLoaded(ctx context.Context, table, input string) (bool, error)
	MarkLoaded(ctx context.Context, table, input string, loaded int64) error
}

// NopLedger is used when no MongoDB is configured.
type NopLedger struct{}

func (NopLedger) RecordRun(context.Context, *models.RunRecord) error { return nil }
func (NopLedger) IsLoaded(context.Context, string, string) (bool, error) {
	return false, nil
}
func (NopLedger) MarkLoaded(context.Context, string, string, int64) error { return nil }

type App struct {
	cfg    *config.Config
	log    *slog.Logger
	ledger Ledger
}

func New(cfg *config.Config, logger *slog.Logger, ledger Ledger) *App {
	if ledger == nil {
		ledger = NopLedger{}
	}
	return &App{cfg: cfg, log: logger, ledger: ledger}
}

func (a *App) TransformPosts(ctx context.Context, input, output string) (Stats, error) {
	offset, err := a.cfg.Logic.Offset(time.Now())
	if err != nil {
		return Stats{}, err
	}
	resolver := timestamp.NewResolver(offset, timestamp.WithLogger(a.log))
	a.log.Info("resolving relative timestamps", "offset", offset)

	opts := archive.Options{Logger: a.log}
	return a.transform(ctx, "transform-posts", input, output, opts, func(e archive.Entry) (any, error) {
		return extract.Post(extract.PostID(e.Name), e.Content, resolver)
	})
}

func (a *App) TransformMetadata(ctx context.Context, input, output string) (Stats, error) {
	opts := archive.Options{Suffix: ".json", Logger: a.log}
	return a.transform(ctx, "transform-metadata", input, output, opts, func(e archive.Entry) (any, error) {
		return extract.VideoMetadata(extract.MetadataVideoID(e.Name), e.Content)
	})
}

func (a *App) transform(ctx context.Context, kind, input, output string, opts archive.Options, fn ExtractFunc) (Stats, error) {
	started := time.Now()
	log := a.log.With("input", input)

	src, err := archive.Open(input, opts)
	if err != nil {
		return Stats{}, err
	}
	defer src.Close()

	out, err := os.Create(output)
	if err != nil {
		return Stats{}, fmt.Errorf("create output: %w", err)
	}

	log.Info("transform started", "kind", kind, "output", output)
	stats, err := Transform(ctx, TransformJob{
		Source:  src,
		Output:  out,
		Extract: fn,
		Workers: a.cfg.Logic.MaxWorkers,
		Grace:   a.cfg.Logic.ShutdownGrace(),
		Logger:  log,
	})
	if cerr := out.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close output: %w", cerr)
	}

	a.recordRun(ctx, &models.RunRecord{
		Kind:       kind,
		Input:      input,
		Output:     output,
		Processed:  stats.Written,
		Skipped:    stats.Skipped,
		StartedAt:  started.Unix(),
		DurationMS: stats.Elapsed.Milliseconds(),
	}, err)

	return stats, err
}

// Load feeds each JSON lines input into table. Inputs the ledger already
// knows are skipped unless force is set.
func (a *App) Load(ctx context.Context, sess loader.Session, table loader.Table, inputs []string, force bool) (loader.Stats, error) {
	var total loader.Stats
	l := loader.New(sess, table, a.cfg.DB.Postgres.BatchSize, a.log)

	for _, input := range inputs {
		log := a.log.With("table", table.Name, "input", input)
		if !force {
			done, err := a.ledger.IsLoaded(ctx, table.Name, input)
			if err != nil {
				log.Warn("ledger lookup failed, loading anyway", "error", err)
			}
			if done {
				log.Info("already loaded, skipping")
				continue
			}
		}

		started := time.Now()
		st, err := a.loadFile(ctx, l, table, input)
		total.Add(st)
		log.Info("input loaded", "read", st.Read, "loaded", st.Loaded,
			"duplicates", st.Duplicates, "failed", st.Failed, "malformed", st.Malformed)

		a.recordRun(ctx, &models.RunRecord{
			Kind:       "load-" + table.Name,
			Input:      input,
			Processed:  st.Loaded,
			Skipped:    st.Malformed,
			Duplicates: st.Duplicates,
			Failed:     st.Failed,
			StartedAt:  started.Unix(),
			DurationMS: time.Since(started).Milliseconds(),
		}, err)
		if err != nil {
			return total, err
		}

		if err := a.ledger.MarkLoaded(ctx, table.Name, input, st.Loaded); err != nil {
			log.Warn("cannot mark input as loaded", "error", err)
		}
	}
	return total, nil
}

func (a *App) loadFile(ctx context.Context, l *loader.Loader, table loader.Table, input string) (loader.Stats, error) {
	f, err := os.Open(input)
	if err != nil {
		return loader.Stats{}, err
	}
	defer f.Close()
	return l.Load(ctx, loader.NewJSONLines(f, table.Decode))
}

// recordRun stores the outcome even when ctx is already cancelled.
func (a *App) recordRun(ctx context.Context, run *models.RunRecord, runErr error) {
	run.FinishedAt = time.Now().Unix()
	run.ID = fmt.Sprintf("%s-%d", run.Kind, time.Now().UnixNano())
	switch {
	case runErr == nil:
		run.Status = RunSuccess
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, ErrAbandoned):
		run.Status = RunCancelled
		run.Error = runErr.Error()
	default:
		run.Status = RunError
		run.Error = runErr.Error()
	}

	if err := a.ledger.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		a.log.Warn("cannot record run", "kind", run.Kind, "error", err)
	}
}
