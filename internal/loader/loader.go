package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

const (
	DefaultBatchSize = 1000
	rowSavepoint     = "row"
)

type Stats struct {
	Read       int64
	Loaded     int64
	Duplicates int64
	Failed     int64
	Malformed  int64
}

func (s *Stats) Add(o Stats) {
	s.Read += o.Read
	s.Loaded += o.Loaded
	s.Duplicates += o.Duplicates
	s.Failed += o.Failed
	s.Malformed += o.Malformed
}

type Loader struct {
	sess      Session
	table     Table
	copySQL   string
	batchSize int
	log       *slog.Logger
}

func New(sess Session, table Table, batchSize int, logger *slog.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		sess:      sess,
		table:     table,
		copySQL:   copySQL(table.Name, table.Columns),
		batchSize: batchSize,
		log:       logger.With("table", table.Name),
	}
}

type pending struct {
	id   any
	line []byte
}

// Load streams rows into the table. Each batch commits on its own; rows that
// collide with an existing primary key are skipped, so a rerun over the
// same input loads nothing new.
func (l *Loader) Load(ctx context.Context, src RowReader) (Stats, error) {
	var st Stats
	batch := make([]pending, 0, l.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrMalformed) {
			st.Malformed++
			l.log.Warn("skipping malformed input", "error", err)
			continue
		}
		if err != nil {
			return st, fmt.Errorf("read input: %w", err)
		}
		if len(row) != len(l.table.Columns) {
			st.Malformed++
			l.log.Warn("skipping row with wrong arity", "got", len(row), "want", len(l.table.Columns))
			continue
		}

		st.Read++
		var buf bytes.Buffer
		EncodeRow(&buf, row)
		batch = append(batch, pending{id: row[0], line: buf.Bytes()})

		if len(batch) >= l.batchSize {
			if err := l.flush(ctx, batch, &st); err != nil {
				return st, err
			}
			batch = batch[:0]
			l.log.Debug("batch committed", "loaded", st.Loaded, "duplicates", st.Duplicates)
		}
	}

	if len(batch) > 0 {
		if err := l.flush(ctx, batch, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// flush tries the whole batch in one COPY. When the server rejects it the
// transaction is rolled back and the rows are replayed one by one, each
// behind a savepoint, so one bad row cannot poison the rest.
func (l *Loader) flush(ctx context.Context, batch []pending, st *Stats) error {
	if err := l.sess.Exec(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	n, err := l.sess.CopyFrom(ctx, joined(batch), l.copySQL)
	if err == nil {
		return l.commit(ctx, batch, n, st)
	}
	if _, ok := serverError(err); !ok {
		return fmt.Errorf("copy batch: %w", err)
	}
	if err := l.sess.Exec(ctx, "ROLLBACK"); err != nil {
		return fmt.Errorf("rollback batch: %w", err)
	}
	l.log.Debug("batch rejected, replaying row by row", "rows", len(batch), "error", err)

	return l.replay(ctx, batch, st)
}

func (l *Loader) replay(ctx context.Context, batch []pending, st *Stats) error {
	if err := l.sess.Exec(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	var loaded int64
	for _, p := range batch {
		if err := l.sess.Exec(ctx, "SAVEPOINT "+rowSavepoint); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}

		_, err := l.sess.CopyFrom(ctx, bytes.NewReader(p.line), l.copySQL)
		if err == nil {
			if err := l.sess.Exec(ctx, "RELEASE SAVEPOINT "+rowSavepoint); err != nil {
				return fmt.Errorf("release savepoint: %w", err)
			}
			loaded++
			continue
		}

		pgErr, ok := serverError(err)
		if !ok {
			return fmt.Errorf("copy row %v: %w", p.id, err)
		}
		if rbErr := l.sess.Exec(ctx, "ROLLBACK TO SAVEPOINT "+rowSavepoint); rbErr != nil {
			// The transaction itself is gone; everything since BEGIN is lost.
			if err := l.sess.Exec(ctx, "ROLLBACK"); err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			l.log.Warn("transaction aborted, rows lost", "rows", loaded, "error", rbErr)
			st.Failed += loaded
			loaded = 0
			if err := l.sess.Exec(ctx, "BEGIN"); err != nil {
				return fmt.Errorf("begin: %w", err)
			}
		}

		if IsDuplicate(pgErr) {
			st.Duplicates++
			l.log.Debug("duplicate key, skipping", "id", p.id)
		} else {
			st.Failed++
			l.log.Warn("row rejected", "id", p.id, "code", pgErr.Code, "error", pgErr.Message)
		}
	}

	if err := l.sess.Exec(ctx, "COMMIT"); err != nil {
		if _, ok := serverError(err); !ok {
			return fmt.Errorf("commit: %w", err)
		}
		l.log.Warn("commit rejected", "rows", loaded, "error", err)
		st.Failed += loaded
		return nil
	}
	st.Loaded += loaded
	return nil
}

func (l *Loader) commit(ctx context.Context, batch []pending, copied int64, st *Stats) error {
	err := l.sess.Exec(ctx, "COMMIT")
	if err == nil {
		st.Loaded += copied
		return nil
	}
	if _, ok := serverError(err); !ok {
		return fmt.Errorf("commit: %w", err)
	}
	// A deferred constraint can still fail here; fall back to row by row.
	l.log.Debug("batch commit rejected, replaying row by row", "rows", len(batch), "error", err)
	return l.replay(ctx, batch, st)
}

func joined(batch []pending) io.Reader {
	readers := make([]io.Reader, len(batch))
	for i, p := range batch {
		readers[i] = bytes.NewReader(p.line)
	}
	return io.MultiReader(readers...)
}
