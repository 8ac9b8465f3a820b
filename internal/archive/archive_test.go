package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

func writeZip(t *testing.T, files map[string]string, dirs ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "posts.zip")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, d := range dirs {
		if _, err := zw.Create(d); err != nil {
			t.Fatal(err)
		}
	}
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeTarGz(t *testing.T, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "metadata.tar.gz")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "metadata/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return p
}

func collect(t *testing.T, r Reader) map[string]string {
	t.Helper()
	got := map[string]string{}
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got[e.Name] = string(e.Content)
	}
	// Exhausted readers stay exhausted.
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("second EOF = %v", err)
	}
	return got
}

func TestZip_SkipsDirectoriesAndHidden(t *testing.T) {
	p := writeZip(t, map[string]string{
		"abc123":             "<html>a</html>",
		"def456":             "<html>b</html>",
		".DS_Store":          "junk",
		"__MACOSX/._abc123":  "junk",
		"posts/.hidden/x123": "junk",
	}, "posts/")

	r, err := Open(p, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := collect(t, r)
	if len(got) != 2 || got["abc123"] != "<html>a</html>" || got["def456"] != "<html>b</html>" {
		t.Errorf("unexpected entries: %v", got)
	}
}

func TestZip_IncludeHidden(t *testing.T) {
	p := writeZip(t, map[string]string{"a": "1", ".b": "2"})
	r, err := Open(p, Options{IncludeHidden: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if got := collect(t, r); len(got) != 2 {
		t.Errorf("want hidden entry included, got %v", got)
	}
}

func TestTarGz_SuffixFilter(t *testing.T) {
	p := writeTarGz(t, map[string]string{
		"metadata/meta-aaa.json": `[{"a":1}]`,
		"metadata/meta-bbb.json": `[{"b":2}]`,
		"metadata/README.txt":    "hello",
		"metadata/._meta-c.json": "junk",
	})
	r, err := Open(p, Options{Suffix: ".json"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got := collect(t, r)
	if len(got) != 2 {
		t.Fatalf("want 2 json entries, got %v", got)
	}
	if got["metadata/meta-aaa.json"] != `[{"a":1}]` {
		t.Errorf("content mismatch: %v", got)
	}
}

func TestPatterns(t *testing.T) {
	p := writeZip(t, map[string]string{"keep1": "x", "keep2": "x", "drop1": "x", "other": "x"})
	r, err := Open(p, Options{IncludePatterns: []string{`^keep`, `^drop`}, ExcludePatterns: []string{`1$`}})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got := collect(t, r)
	if len(got) != 1 || got["keep2"] == "" {
		t.Errorf("unexpected entries: %v", got)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "broken.zip")
	if err := os.WriteFile(corrupt, []byte("definitely not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	badGz := filepath.Join(dir, "broken.tar.gz")
	if err := os.WriteFile(badGz, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		path string
		opts Options
	}{
		{"corrupt zip", corrupt, Options{}},
		{"corrupt gzip", badGz, Options{}},
		{"missing", filepath.Join(dir, "missing.zip"), Options{}},
		{"unsupported", filepath.Join(dir, "file.rar"), Options{}},
		{"bad pattern", corrupt, Options{IncludePatterns: []string{"("}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.path, tc.opts)
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v, want *archive.Error", err)
			}
		})
	}
}

func TestTarGz_TruncatedIsArchiveError(t *testing.T) {
	p := writeTarGz(t, map[string]string{"meta-a.json": `[{"a":1}]`})
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data[:len(data)/2], 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(p, Options{})
	if err != nil {
		var ae *Error
		if !errors.As(err, &ae) {
			t.Fatalf("open err = %v", err)
		}
		return
	}
	defer r.Close()
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			t.Fatal("truncated archive walked to a clean EOF")
		}
		if err != nil {
			var ae *Error
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v, want *archive.Error", err)
			}
			return
		}
	}
}

func TestZip_UnreadableMemberSkipped(t *testing.T) {
	p := filepath.Join(t.TempDir(), "posts.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range []struct{ name, body string }{
		{"aaa111", "<html>first</html>"},
		{"bbb222", "<html>second</html>"},
		{"ccc333", "<html>third</html>"},
	} {
		// Stored, so a flipped byte reaches the checksum instead of the inflater.
		w, err := zw.CreateHeader(&zip.FileHeader{Name: m.name, Method: zip.Store})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, m.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	i := bytes.Index(data, []byte("second"))
	if i < 0 {
		t.Fatal("member data not found")
	}
	data[i] ^= 0xff
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(p, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var names []string
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var ae *Error
			if errors.As(err, &ae) {
				t.Fatalf("damaged member ended the walk: %v", err)
			}
			t.Fatalf("Next: %v", err)
		}
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "aaa111" || names[1] != "ccc333" {
		t.Errorf("entries = %v, want [aaa111 ccc333]", names)
	}
}
