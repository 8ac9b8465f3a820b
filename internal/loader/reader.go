package loader

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

var ErrMalformed = errors.New("malformed line")

// RowReader yields rows until io.EOF. Errors wrapping ErrMalformed are
// per-line and the caller may keep reading.
type RowReader interface {
	Next() (Row, error)
}

type JSONLines struct {
	r      *bufio.Reader
	decode DecodeFunc
	line   int
}

func NewJSONLines(r io.Reader, decode DecodeFunc) *JSONLines {
	return &JSONLines{r: bufio.NewReaderSize(r, 1<<20), decode: decode}
}

func (j *JSONLines) Next() (Row, error) {
	for {
		raw, err := j.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			if err != nil {
				return nil, io.EOF
			}
			j.line++
			continue
		}
		j.line++

		row, derr := j.decode(line)
		if derr != nil {
			return nil, fmt.Errorf("line %d: %w: %v", j.line, ErrMalformed, derr)
		}
		return row, nil
	}
}

type recordRows[T any] struct {
	items []T
	build func(T) (Row, error)
	pos   int
}

// Records adapts an in-memory typed stream to a RowReader.
func Records[T any](items []T, build func(T) (Row, error)) RowReader {
	return &recordRows[T]{items: items, build: build}
}

func (r *recordRows[T]) Next() (Row, error) {
	if r.pos >= len(r.items) {
		return nil, io.EOF
	}
	item := r.items[r.pos]
	r.pos++
	row, err := r.build(item)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w: %v", r.pos, ErrMalformed, err)
	}
	return row, nil
}
