package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"parler_dump/internal/app"
	"parler_dump/internal/config"
	"parler_dump/internal/db"
	"parler_dump/internal/export"
	"parler_dump/internal/loader"
	"parler_dump/internal/logging"
	"parler_dump/internal/storage"
)

type env struct {
	cfg *config.Config
	log *slog.Logger
	fs  *flag.FlagSet
}

type runFunc func(ctx context.Context, e *env) error

type command struct {
	usage string
	setup func(fs *flag.FlagSet) runFunc
}

var commands = map[string]command{
	"transform-posts":    {"convert a zip of post HTML pages into JSON lines", transformCmd(false)},
	"transform-metadata": {"convert a tar.gz of video metadata into JSON lines", transformCmd(true)},
	"create-tables":      {"create the posts, metadata and users tables", createTablesCmd},
	"load-posts":         {"load post JSON lines files into postgres", loadCmd(func(t config.TablesConfig) loader.Table { return loader.PostsTable(t.Posts) })},
	"load-metadata":      {"load metadata JSON lines files into postgres", loadCmd(func(t config.TablesConfig) loader.Table { return loader.MetadataTable(t.Metadata) })},
	"load-users":         {"load user JSON lines files into postgres", loadCmd(func(t config.TablesConfig) loader.Table { return loader.UsersTable(t.Users) })},
	"export":             {"export posts, bios and videos for a CSV of users", exportCmd},
	"runs":               {"list recent runs from the ledger", runsCmd},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <command> [flags]\n\ncommands:\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-20s %s\n", name, commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the yaml config")
	envPath := fs.String("env", ".env", "path to a .env file with credentials")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides config)")
	run := cmd.setup(fs)
	_ = fs.Parse(os.Args[2:])

	config.LoadEnv(*envPath)
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logic.LogLevel = *logLevel
	}
	logger := logging.InitLogger(cfg.Logic.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run(ctx, &env{cfg: cfg, log: logger, fs: fs}); err != nil {
		logger.Error("operation failed", "command", name, "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		stop()
		os.Exit(1)
	}
	logger.Info("operation finished", "command", name, "elapsed", time.Since(start).Round(time.Millisecond))
}

func transformCmd(metadata bool) func(fs *flag.FlagSet) runFunc {
	return func(fs *flag.FlagSet) runFunc {
		input := fs.String("input", "", "archive to read (.zip, .tar.gz)")
		output := fs.String("output", "", "JSON lines file to write")
		workers := fs.Int("workers", 0, "extraction workers (default: config or CPUs-1)")
		offset := fs.String("anchor-offset", "", "duration subtracted from relative post times, e.g. 72h")
		captured := fs.String("capture-time", "", "RFC 3339 time the pages were captured")

		return func(ctx context.Context, e *env) error {
			if *input == "" || *output == "" {
				return errors.New("-input and -output are required")
			}
			if *workers > 0 {
				e.cfg.Logic.MaxWorkers = *workers
			}
			if *offset != "" {
				e.cfg.Logic.AnchorOffset = *offset
			}
			if *captured != "" {
				e.cfg.Logic.CaptureTime = *captured
			}

			ledger, closeLedger := openLedger(ctx, e)
			defer closeLedger()
			a := app.New(e.cfg, e.log, ledger)

			var (
				stats app.Stats
				err   error
			)
			if metadata {
				stats, err = a.TransformMetadata(ctx, *input, *output)
			} else {
				stats, err = a.TransformPosts(ctx, *input, *output)
			}
			e.log.Info("entries processed",
				"entries", stats.Entries,
				"written", stats.Written,
				"skipped", stats.Skipped,
				"elapsed", stats.Elapsed.Round(time.Millisecond))
			return err
		}
	}
}

func createTablesCmd(_ *flag.FlagSet) runFunc {
	return func(ctx context.Context, e *env) error {
		pool, err := db.OpenPool(ctx, e.cfg.DB.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.CreateTables(ctx, pool, e.cfg.Tables); err != nil {
			return err
		}
		e.log.Info("tables ready", "posts", e.cfg.Tables.Posts, "metadata", e.cfg.Tables.Metadata, "users", e.cfg.Tables.Users)
		return nil
	}
}

func loadCmd(table func(config.TablesConfig) loader.Table) func(fs *flag.FlagSet) runFunc {
	return func(fs *flag.FlagSet) runFunc {
		force := fs.Bool("force", false, "load inputs the ledger already marks as loaded")
		batch := fs.Int("batch-size", 0, "rows per COPY batch (default: config)")

		return func(ctx context.Context, e *env) error {
			inputs := e.fs.Args()
			if len(inputs) == 0 {
				return errors.New("pass one or more JSON lines files")
			}
			if *batch > 0 {
				e.cfg.DB.Postgres.BatchSize = *batch
			}

			pool, err := db.OpenPool(ctx, e.cfg.DB.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire connection: %w", err)
			}
			defer conn.Release()

			ledger, closeLedger := openLedger(ctx, e)
			defer closeLedger()

			a := app.New(e.cfg, e.log, ledger)
			st, err := a.Load(ctx, loader.NewPgSession(conn.Conn().PgConn()), table(e.cfg.Tables), inputs, *force)
			e.log.Info("rows processed",
				"read", st.Read,
				"loaded", st.Loaded,
				"duplicates", st.Duplicates,
				"failed", st.Failed,
				"malformed", st.Malformed)
			return err
		}
	}
}

func exportCmd(fs *flag.FlagSet) runFunc {
	input := fs.String("input", "", "CSV with username and metadata_id columns")
	output := fs.String("output", ".", "output directory")

	return func(ctx context.Context, e *env) error {
		if *input == "" {
			return errors.New("-input is required")
		}
		f, err := os.Open(*input)
		if err != nil {
			return err
		}
		req, err := export.ReadRequests(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", *input, err)
		}

		pool, err := db.OpenPool(ctx, e.cfg.DB.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()

		client, err := storage.NewClient(ctx, e.cfg.Storage)
		if err != nil {
			return err
		}
		fetcher := storage.NewFetcher(client, e.cfg.Storage.Bucket, e.cfg.Storage.RequesterPays)

		ex := export.New(pool, fetcher, e.cfg.Tables.Posts, e.cfg.Tables.Users, e.log)
		sum, err := ex.Export(ctx, req, *output)
		e.log.Info("users exported",
			"users", sum.Users,
			"posts", sum.Posts,
			"videos", sum.Videos,
			"videos_skipped", sum.VideosSkipped)
		return err
	}
}

func runsCmd(fs *flag.FlagSet) runFunc {
	limit := fs.Int64("limit", 20, "number of runs to show")

	return func(ctx context.Context, e *env) error {
		if e.cfg.DB.Mongo.Connection == "" {
			return errors.New("no ledger configured (set MONGO_URI)")
		}
		ledger, err := db.NewMongoDB(ctx, e.cfg.DB.Mongo)
		if err != nil {
			return err
		}
		defer ledger.Close()

		runs, err := ledger.RecentRuns(ctx, *limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%s  %-20s %-9s processed=%d skipped=%d duplicates=%d failed=%d  %s\n",
				time.Unix(r.StartedAt, 0).Format(time.DateTime), r.Kind, r.Status,
				r.Processed, r.Skipped, r.Duplicates, r.Failed, r.Input)
		}
		return nil
	}
}

// openLedger connects to MongoDB when configured. Without it runs are not
// recorded and every input is loaded.
func openLedger(ctx context.Context, e *env) (app.Ledger, func()) {
	if e.cfg.DB.Mongo.Connection == "" {
		return app.NopLedger{}, func() {}
	}
	m, err := db.NewMongoDB(ctx, e.cfg.DB.Mongo)
	if err != nil {
		e.log.Warn("run ledger unavailable, continuing without it", "error", err)
		return app.NopLedger{}, func() {}
	}
	return m, func() {
		if err := m.Close(); err != nil {
			e.log.Warn("closing ledger", "error", err)
		}
	}
}
