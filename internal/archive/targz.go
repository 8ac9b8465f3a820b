package archive

import (
	"archive/tar"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/klauspost/compress/gzip"
)

type tarGzReader struct {
	file   *os.File
	gz     *gzip.Reader
	tr     *tar.Reader
	path   string
	filter *filter
	log    *slog.Logger
}

func openTarGz(p string, f *filter, logger *slog.Logger) (*tarGzReader, error) {
	file, err := os.Open(p)
	if err != nil {
		return nil, &Error{Path: p, Err: err}
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, &Error{Path: p, Err: err}
	}
	return &tarGzReader{
		file:   file,
		gz:     gz,
		tr:     tar.NewReader(gz),
		path:   p,
		filter: f,
		log:    logger,
	}, nil
}

func (t *tarGzReader) Next() (Entry, error) {
	for {
		hdr, err := t.tr.Next()
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		if err != nil {
			return Entry{}, &Error{Path: t.path, Err: err}
		}

		isDir := hdr.Typeflag == tar.TypeDir
		if hdr.Typeflag != tar.TypeReg && !isDir {
			continue
		}
		if !t.filter.accept(hdr.Name, isDir) {
			continue
		}

		content, err := io.ReadAll(t.tr)
		if err != nil {
			// The stream position is lost after a short read; the following
			// header read reports the container error.
			t.log.Warn("skipping unreadable entry", slog.String("entry", hdr.Name), slog.Any("error", err))
			continue
		}
		return Entry{Name: hdr.Name, Content: content}, nil
	}
}

func (t *tarGzReader) Close() error {
	gzErr := t.gz.Close()
	if err := t.file.Close(); err != nil {
		return err
	}
	return gzErr
}
