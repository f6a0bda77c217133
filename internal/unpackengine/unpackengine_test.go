package unpackengine_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/u4pak/u4pak/internal/packengine"
	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
	"github.com/u4pak/u4pak/internal/unpackengine"
)

func buildPak(t *testing.T, files map[string][]byte, compress bool) (*pakfile.Pak, *os.File) {
	t.Helper()

	srcDir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(srcDir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := packengine.Walk([]packengine.SourceSpec{{LocalPath: srcDir}})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	for i := range jobs {
		jobs[i].Compress = compress
	}

	dest := filepath.Join(t.TempDir(), "fixture.pak")
	if err := packengine.Run(context.Background(), dest, jobs, packengine.Options{
		Version:              3,
		CompressionBlockSize: 4096,
	}); err != nil {
		t.Fatalf("packengine.Run: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	fi, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	pak, err := pakfile.Open(f, fi.Size(), pakfile.OpenOptions{})
	if err != nil {
		t.Fatalf("pakfile.Open: %v", err)
	}
	return pak, f
}

func TestRunExtractsMatchingContent(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"a.txt":        []byte("hello, world\n"),
		"sub/b.bin":    bytes.Repeat([]byte{0x01, 0x02, 0x03}, 20000),
		"deep/d/e.txt": []byte("nested\n"),
	}

	for _, compress := range []bool{false, true} {
		pak, f := buildPak(t, files, compress)
		defer f.Close()

		outDir := t.TempDir()
		results, err := unpackengine.Run(context.Background(), pak, unpackengine.Options{OutputDir: outDir})
		if err != nil {
			t.Fatalf("Run(compress=%v): %v", compress, err)
		}
		if len(results) != len(files) {
			t.Fatalf("results = %d, want %d", len(results), len(files))
		}
		for _, r := range results {
			if r.Err != nil {
				t.Fatalf("%s: %v", r.Record.Filename, r.Err)
			}
			want, ok := files[r.Record.Filename]
			if !ok {
				t.Fatalf("unexpected record %s", r.Record.Filename)
			}
			got, err := os.ReadFile(filepath.Join(outDir, r.Record.Filename))
			if err != nil {
				t.Fatalf("reading extracted %s: %v", r.Record.Filename, err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("%s: extracted content mismatch (compress=%v)", r.Record.Filename, compress)
			}
		}
	}
}

func TestRunRespectsPathsFilter(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"a.txt":     []byte("a"),
		"sub/b.txt": []byte("b"),
	}
	pak, f := buildPak(t, files, false)
	defer f.Close()

	outDir := t.TempDir()
	results, err := unpackengine.Run(context.Background(), pak, unpackengine.Options{
		OutputDir: outDir,
		Paths:     map[string]bool{"a.txt": true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Record.Filename != "a.txt" {
		t.Fatalf("results = %+v, want exactly a.txt", results)
	}
	if _, err := os.Stat(filepath.Join(outDir, "sub/b.txt")); !os.IsNotExist(err) {
		t.Errorf("sub/b.txt should not have been extracted, stat err = %v", err)
	}
}

func TestSafeJoinRejectsEscapes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cases := []string{
		"../escape.txt",
		"/etc/passwd",
		"sub/../../escape.txt",
		"",
	}
	for _, name := range cases {
		if _, err := unpackengine.SafeJoin(root, name); err == nil {
			t.Errorf("SafeJoin(%q): expected an error", name)
		} else {
			var unsafe *pakerr.UnsafePath
			if !errors.As(err, &unsafe) {
				t.Errorf("SafeJoin(%q): error = %v, want *pakerr.UnsafePath", name, err)
			}
		}
	}
}

func TestSafeJoinAcceptsNestedPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	got, err := unpackengine.SafeJoin(root, "a/b/c.txt")
	if err != nil {
		t.Fatalf("SafeJoin: %v", err)
	}
	want := filepath.Join(root, "a", "b", "c.txt")
	if got != want {
		t.Errorf("SafeJoin = %q, want %q", got, want)
	}
}
