// Package timestamp resolves the free-form post times found in the dump.
//
// Pages were rendered with times relative to the moment they were captured
// ("3 hours ago"), so relative phrases are projected back by the anchor offset:
// the distance between the capture moment and the moment of processing.
package timestamp

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
)

var (
	reRelative = regexp.MustCompile(`^(an?|one|\d+)\s*([a-z]+)\.?(?:\s+ago)?$`)
	reLetters  = regexp.MustCompile(`[A-Za-z]`)
)

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "wk": 7 * 24 * time.Hour, "wks": 7 * 24 * time.Hour,
	"week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

// Calendar units are applied with AddDate rather than a fixed duration.
var calendarUnits = map[string][2]int{
	"mo": {0, 1}, "mos": {0, 1}, "month": {0, 1}, "months": {0, 1},
	"y": {1, 0}, "yr": {1, 0}, "yrs": {1, 0}, "year": {1, 0}, "years": {1, 0},
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.log = logger }
}

// Resolver is safe for concurrent use; calls are serialized on one mutex.
type Resolver struct {
	mu     sync.Mutex
	offset time.Duration
	now    func() time.Time
	log    *slog.Logger

	// reference is the clock reading the current call resolves against.
	reference time.Time
}

func NewResolver(offset time.Duration, opts ...Option) *Resolver {
	r := &Resolver{offset: offset, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns nil when raw cannot be interpreted. A nil result means
// "unknown", never the zero time.
func (r *Resolver) Resolve(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.reference = r.now().UTC()

	if reLetters.MatchString(s) {
		if t, ok := r.relative(s); ok {
			t = t.Add(-r.offset)
			return &t
		}
	}

	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		r.log.Warn("unparseable timestamp", slog.String("raw", raw), slog.Any("error", err))
		return nil
	}
	t = t.UTC()
	return &t
}

func (r *Resolver) relative(s string) (time.Time, bool) {
	s = strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))

	switch s {
	case "now", "just now", "moments ago", "a moment ago", "today":
		return r.reference, true
	case "yesterday":
		return r.reference.AddDate(0, 0, -1), true
	}

	m := reRelative.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	n := 1
	if m[1] != "a" && m[1] != "an" && m[1] != "one" {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		n = v
	}

	if d, ok := units[m[2]]; ok {
		return r.reference.Add(-time.Duration(n) * d), true
	}
	if cal, ok := calendarUnits[m[2]]; ok {
		return r.reference.AddDate(-n*cal[0], -n*cal[1], 0), true
	}
	return time.Time{}, false
}
