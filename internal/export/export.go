// Package export pulls the posts, bios and videos of selected users out of
// a loaded database.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"parler_dump/internal/loader"
	"parler_dump/internal/storage"

	"github.com/jackc/pgx/v5"
)

var (
	PostsHeader = []string{"username", "body", "created_at", "impressions", "media"}
	BiosHeader  = []string{"username", "banned", "bio", "followers", "following", "joined", "verified"}
)

type Requests struct {
	Users  []string
	Videos []string
}

// ReadRequests parses a CSV with "username" and "metadata_id" columns.
// Empty cells are ignored and duplicates collapse, first occurrence wins.
func ReadRequests(r io.Reader) (Requests, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return Requests{}, fmt.Errorf("read header: %w", err)
	}
	userCol, videoCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "username":
			userCol = i
		case "metadata_id":
			videoCol = i
		}
	}
	if userCol < 0 && videoCol < 0 {
		return Requests{}, errors.New("input needs a username or metadata_id column")
	}

	var req Requests
	users, videos := map[string]bool{}, map[string]bool{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Requests{}, err
		}
		if v := cell(rec, userCol); v != "" && !users[v] {
			users[v] = true
			req.Users = append(req.Users, v)
		}
		if v := cell(rec, videoCol); v != "" && !videos[v] {
			videos[v] = true
			req.Videos = append(req.Videos, v)
		}
	}
	return req, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type VideoFetcher interface {
	Fetch(ctx context.Context, key, dest string) (int64, error)
}

type Summary struct {
	Users         int
	Posts         int
	Videos        int
	VideosSkipped int
}

type Exporter struct {
	db         Querier
	videos     VideoFetcher
	postsTable string
	usersTable string
	log        *slog.Logger
}

func New(db Querier, videos VideoFetcher, postsTable, usersTable string, logger *slog.Logger) *Exporter {
	return &Exporter{db: db, videos: videos, postsTable: postsTable, usersTable: usersTable, log: logger}
}

// Export writes posts/<user>.csv per user, one bios.csv and videos/<id>.mp4.
// Videos that are missing or forbidden are logged and skipped.
func (e *Exporter) Export(ctx context.Context, req Requests, outDir string) (Summary, error) {
	var sum Summary
	postsDir := filepath.Join(outDir, "posts")
	videosDir := filepath.Join(outDir, "videos")
	for _, dir := range []string{postsDir, videosDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sum, err
		}
	}

	postsSQL := fmt.Sprintf(`SELECT author_username, body, approx_created_at::text, impression_count::text, media::text
FROM %s WHERE author_username = $1 ORDER BY approx_created_at`, loader.QuoteTable(e.postsTable))
	bioSQL := fmt.Sprintf(`SELECT username, banned::text, bio, followers::text, following::text, joined::text, verified::text
FROM %s WHERE username = $1`, loader.QuoteTable(e.usersTable))

	bios, err := newCSVFile(filepath.Join(outDir, "bios.csv"), BiosHeader)
	if err != nil {
		return sum, err
	}
	defer bios.Close()

	for _, user := range req.Users {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if _, err := e.copyRows(ctx, bios, bioSQL, user); err != nil {
			return sum, fmt.Errorf("bio of %s: %w", user, err)
		}

		posts, err := newCSVFile(filepath.Join(postsDir, fileName(user)+".csv"), PostsHeader)
		if err != nil {
			return sum, err
		}
		n, err := e.copyRows(ctx, posts, postsSQL, user)
		if cerr := posts.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return sum, fmt.Errorf("posts of %s: %w", user, err)
		}
		sum.Users++
		sum.Posts += n
		e.log.Debug("user exported", "username", user, "posts", n)
	}
	if err := bios.Close(); err != nil {
		return sum, err
	}

	for _, id := range req.Videos {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		_, err := e.videos.Fetch(ctx, id, filepath.Join(videosDir, fileName(id)+".mp4"))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			sum.VideosSkipped++
			e.log.Warn("video does not exist", "id", id)
		case errors.Is(err, storage.ErrForbidden):
			sum.VideosSkipped++
			e.log.Warn("video forbidden, check AWS credentials", "id", id)
		case err != nil:
			return sum, err
		default:
			sum.Videos++
		}
	}
	return sum, nil
}

func (e *Exporter) copyRows(ctx context.Context, out *csvFile, sql, user string) (int, error) {
	rows, err := e.db.Query(ctx, sql, user)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		cols := make([]*string, len(rows.FieldDescriptions()))
		dest := make([]any, len(cols))
		for i := range cols {
			dest[i] = &cols[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return n, err
		}
		rec := make([]string, len(cols))
		for i, c := range cols {
			if c != nil {
				rec[i] = *c
			}
		}
		if err := out.w.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// fileName keeps user supplied names inside the output directory.
func fileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
}

type csvFile struct {
	f      *os.File
	w      *csv.Writer
	closed bool
}

func newCSVFile(path string, header []string) (*csvFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	c := &csvFile{f: f, w: csv.NewWriter(f)}
	if err := c.w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *csvFile) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}
