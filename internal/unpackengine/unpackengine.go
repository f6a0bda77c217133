// Package unpackengine extracts a parsed pak archive's records to a
// directory tree, validating each record's path before it ever touches the
// filesystem (spec §4.6).
package unpackengine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
	"github.com/u4pak/u4pak/internal/pakformat"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Options configures an unpack run (spec §6 unpack subcommand flags).
type Options struct {
	Log *log.Logger

	// OutputDir is the destination root; every extracted record's path is
	// validated to stay inside it.
	OutputDir string

	// Threads is the worker count; 0 means inline (see checkengine.Options
	// for the same supplemented reading of --threads=N).
	Threads int

	// Paths, if non-nil, restricts extraction to records whose filename
	// is in this set (spec §6 --paths); a non-nil empty map selects nothing.
	Paths map[string]bool
}

// Result is one record's extraction outcome.
type Result struct {
	Record *pakfile.Record
	Err    error
}

// Run extracts every selected record in pak.Records, returning one Result
// per selected record in pak.Records order.
func Run(ctx context.Context, pak *pakfile.Pak, opts Options) ([]Result, error) {
	if pak.IndexEncrypted {
		return nil, &pakerr.UnsupportedFeature{Name: "encrypted index"}
	}

	selected := make([]*pakfile.Record, 0, len(pak.Records))
	for _, rec := range pak.Records {
		if opts.Paths != nil && !opts.Paths[rec.Filename] {
			continue
		}
		selected = append(selected, rec)
	}

	n := len(selected)
	results := make([]Result, n)
	extract := func(i int) {
		rec := selected[i]
		results[i] = Result{Record: rec, Err: extractOne(pak, rec, opts)}
	}

	if opts.Threads == 0 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			extract(i)
		}
		return results, nil
	}

	threads := opts.Threads
	if threads < 0 {
		threads = runtime.NumCPU()
	}
	if threads > n && n > 0 {
		threads = n
	}

	eg, egCtx := errgroup.WithContext(ctx)
	work := make(chan int)
	for w := 0; w < threads; w++ {
		eg.Go(func() error {
			for i := range work {
				if err := egCtx.Err(); err != nil {
					return err
				}
				extract(i)
			}
			return nil
		})
	}
	eg.Go(func() error {
		defer close(work)
		for i := 0; i < n; i++ {
			select {
			case work <- i:
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// SafeJoin validates that filename (forward-slash, archive-relative) stays
// inside root once joined, rejecting absolute paths and ".." components
// outright rather than silently normalizing them away (spec §4.6, error
// kind UnsafePath).
func SafeJoin(root, filename string) (string, error) {
	if filename == "" || strings.HasPrefix(filename, "/") {
		return "", &pakerr.UnsafePath{Path: filename}
	}
	for _, part := range strings.Split(filename, "/") {
		if part == ".." {
			return "", &pakerr.UnsafePath{Path: filename}
		}
	}
	full := filepath.Join(root, filepath.FromSlash(path.Clean(filename)))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", &pakerr.UnsafePath{Path: filename}
	}
	return full, nil
}

func extractOne(pak *pakfile.Pak, rec *pakfile.Record, opts Options) error {
	dest, err := SafeJoin(opts.OutputDir, rec.Filename)
	if err != nil {
		return err
	}

	if rec.Encrypted {
		return &pakerr.UnsupportedFeature{Name: "encrypted payload"}
	}
	if !rec.Method.None() && !rec.Method.Zlib() {
		return &pakerr.UnsupportedFeature{Name: "compression method " + rec.Method.String()}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &pakerr.Io{Op: "mkdir " + filepath.Dir(dest), Err: err}
	}

	out, err := os.Create(dest)
	if err != nil {
		return &pakerr.Io{Op: "create " + dest, Err: err}
	}
	defer out.Close()

	if rec.Method.None() {
		if _, err := out.ReadFrom(pak.PayloadReader(rec)); err != nil {
			return &pakerr.Io{Op: "write " + dest, Err: err}
		}
		return nil
	}

	for i, block := range rec.Blocks {
		raw, err := readAll(pak, block)
		if err != nil {
			return &pakerr.Io{Op: "read block of " + rec.Filename, Err: err}
		}
		plain, err := pakformat.InflateBlock(raw)
		if err != nil {
			return &pakerr.DecompressError{Path: rec.Filename, Err: err}
		}
		if want := rec.ExpectedBlockLen(i); uint64(len(plain)) != want {
			return &pakerr.DecompressError{Path: rec.Filename, Err: fmt.Errorf("block %d inflated to %d bytes, want %d", i, len(plain), want)}
		}
		if _, err := out.Write(plain); err != nil {
			return &pakerr.Io{Op: "write " + dest, Err: err}
		}
	}
	return nil
}

func readAll(pak *pakfile.Pak, block pakfile.CompressionBlock) ([]byte, error) {
	buf := make([]byte, block.Len())
	if _, err := io.ReadFull(pak.BlockReader(block), buf); err != nil {
		return nil, xerrors.Errorf("read: %w", err)
	}
	return buf, nil
}
