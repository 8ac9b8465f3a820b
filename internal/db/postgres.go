package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parler_dump/internal/config"
	"parler_dump/internal/loader"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoDSN = errors.New("postgres dsn is empty (set PG_DSN)")

func OpenPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pcfg.MaxConnIdleTime = 2 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Execer runs DDL; *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateTables creates the three dump tables when they do not exist. Column
// order matches the loader's COPY column lists.
func CreateTables(ctx context.Context, db Execer, tables config.TablesConfig) error {
	for _, stmt := range schema(tables) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func schema(t config.TablesConfig) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                     text PRIMARY KEY,
	author_username        text,
	author_name            text,
	author_profile_img_url text,
	title                  text,
	created_at             text,
	approx_created_at      timestamptz,
	body                   text,
	impression_count       bigint,
	comment_count          bigint,
	echo_count             bigint,
	upvote_count           bigint,
	is_echo                boolean NOT NULL DEFAULT false,
	echo                   jsonb,
	media                  jsonb
)`, loader.QuoteTable(t.Posts)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         text PRIMARY KEY,
	created_at timestamptz,
	lat        double precision,
	lon        double precision,
	exif       jsonb
)`, loader.QuoteTable(t.Metadata)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id            text PRIMARY KEY,
	username      text,
	banned        boolean,
	bio           text,
	profile_photo text,
	followers     bigint,
	following     bigint,
	posts         bigint,
	joined        timestamptz,
	verified      boolean
)`, loader.QuoteTable(t.Users)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (author_username)`,
			pgx.Identifier{indexName(t.Posts, "author_username")}.Sanitize(), loader.QuoteTable(t.Posts)),
	}
}

func indexName(table, column string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}
	return table + "_" + column + "_idx"
}
