package archive

import (
	"io"
	"log/slog"

	"github.com/klauspost/compress/zip"
)

type zipReader struct {
	rc     *zip.ReadCloser
	path   string
	filter *filter
	log    *slog.Logger
	next   int
}

func openZip(p string, f *filter, logger *slog.Logger) (*zipReader, error) {
	rc, err := zip.OpenReader(p)
	if err != nil {
		return nil, &Error{Path: p, Err: err}
	}
	return &zipReader{rc: rc, path: p, filter: f, log: logger}, nil
}

func (z *zipReader) Next() (Entry, error) {
	for z.next < len(z.rc.File) {
		zf := z.rc.File[z.next]
		z.next++

		if !z.filter.accept(zf.Name, zf.FileInfo().IsDir()) {
			continue
		}

		content, err := readZipFile(zf)
		if err != nil {
			z.log.Warn("skipping unreadable entry", slog.String("entry", zf.Name), slog.Any("error", err))
			continue
		}
		return Entry{Name: zf.Name, Content: content}, nil
	}
	return Entry{}, io.EOF
}

func readZipFile(zf *zip.File) ([]byte, error) {
	r, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (z *zipReader) Close() error {
	return z.rc.Close()
}
