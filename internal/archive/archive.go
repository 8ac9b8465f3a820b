// Package archive walks packed dump archives entry by entry without
// extracting them to disk.
package archive

import (
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
)

type Entry struct {
	Name    string
	Content []byte
}

// Reader yields archive members lazily. Next returns io.EOF after the last
// member. A Reader is not safe for concurrent use and cannot be rewound.
type Reader interface {
	Next() (Entry, error)
	Close() error
}

// Error reports an archive that cannot be opened or whose container structure
// is damaged. It is fatal for the whole walk.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("archive %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type Options struct {
	// Suffix keeps only members whose name ends with it.
	Suffix          string
	IncludeHidden   bool
	IncludePatterns []string
	ExcludePatterns []string
	Logger          *slog.Logger
}

type filter struct {
	suffix        string
	includeHidden bool
	include       []*regexp.Regexp
	exclude       []*regexp.Regexp
}

func newFilter(opts Options) (*filter, error) {
	f := &filter{suffix: opts.Suffix, includeHidden: opts.IncludeHidden}
	for _, p := range opts.IncludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", p, err)
		}
		f.include = append(f.include, re)
	}
	for _, p := range opts.ExcludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

func (f *filter) accept(name string, isDir bool) bool {
	if isDir || strings.HasSuffix(name, "/") {
		return false
	}
	if !f.includeHidden && isHidden(name) {
		return false
	}
	if f.suffix != "" && !strings.HasSuffix(name, f.suffix) {
		return false
	}
	for _, re := range f.exclude {
		if re.MatchString(name) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, re := range f.include {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	for _, seg := range strings.Split(path.Clean(name), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
		if seg == "__MACOSX" {
			return true
		}
	}
	return false
}

// Open picks a reader from the file extension: .zip, .tar.gz or .tgz.
func Open(p string, opts Options) (Reader, error) {
	f, err := newFilter(opts)
	if err != nil {
		return nil, &Error{Path: p, Err: err}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("archive", p))

	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		z, err := openZip(p, f, logger)
		if err != nil {
			return nil, err
		}
		return z, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		t, err := openTarGz(p, f, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, &Error{Path: p, Err: fmt.Errorf("unsupported archive type")}
	}
}
