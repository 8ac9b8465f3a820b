package loader

import (
	"context"
	"errors"
	"io"

	"github.com/jackc/pgx/v5/pgconn"
)

// Session is the slice of a single PostgreSQL connection the loader needs.
// Transactions are driven with plain statements so savepoints can be used.
type Session interface {
	Exec(ctx context.Context, sql string) error
	CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error)
}

type PgSession struct {
	conn *pgconn.PgConn
}

func NewPgSession(conn *pgconn.PgConn) *PgSession {
	return &PgSession{conn: conn}
}

func (s *PgSession) Exec(ctx context.Context, sql string) error {
	_, err := s.conn.Exec(ctx, sql).ReadAll()
	return err
}

func (s *PgSession) CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error) {
	tag, err := s.conn.CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const codeUniqueViolation = "23505"

// serverError reports whether err came back from the server. Those poison
// the transaction but leave the connection usable.
func serverError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsDuplicate reports whether err is a unique key violation.
func IsDuplicate(err error) bool {
	pgErr, ok := serverError(err)
	return ok && pgErr.Code == codeUniqueViolation
}
