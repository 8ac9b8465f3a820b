package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

const progressEvery = 10000

// Sink is the only writer of a JSON lines output. Run must be called from
// exactly one goroutine.
type Sink struct {
	w       io.Writer
	log     *slog.Logger
	buf     bytes.Buffer
	enc     *json.Encoder
	written atomic.Int64
	skipped atomic.Int64
	err     error
}

func NewSink(w io.Writer, logger *slog.Logger) *Sink {
	s := &Sink{w: w, log: logger}
	s.enc = json.NewEncoder(&s.buf)
	s.enc.SetEscapeHTML(false)
	return s
}

// Run drains in until it is closed. After a write error the remaining
// records are discarded so producers never block; Err reports it.
func (s *Sink) Run(in <-chan any) {
	for rec := range in {
		if s.err != nil {
			continue
		}
		if err := s.write(rec); err != nil {
			s.err = err
			s.log.Error("output write failed", "error", err)
		}
	}
}

func (s *Sink) write(rec any) error {
	s.buf.Reset()
	if err := s.enc.Encode(rec); err != nil {
		s.skipped.Add(1)
		s.log.Warn("cannot encode record", "error", err)
		return nil
	}
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	if n := s.written.Add(1); n%progressEvery == 0 {
		s.log.Info("progress", "written", n)
	}
	return nil
}

func (s *Sink) Written() int64 { return s.written.Load() }
func (s *Sink) Skipped() int64 { return s.skipped.Load() }

// Err is only meaningful once Run has returned.
func (s *Sink) Err() error { return s.err }
