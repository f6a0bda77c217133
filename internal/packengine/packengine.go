// Package packengine builds a pak archive from a list of source specs: a
// bounded worker pool compresses and hashes each file independently, then a
// single coordinator goroutine serializes them into monotonically
// increasing offsets and writes the data records, index and footer (spec
// §4.7). Only versions 1-3 are ever emitted (spec §1 Non-goals).
package packengine

import (
	"context"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/google/renameio"
	"github.com/orcaman/writerseeker"
	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
	"github.com/u4pak/u4pak/internal/pakformat"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// DefaultCompressionBlockSize matches the value UE4 itself defaults to
// (spec §6 --compression-block-size).
const DefaultCompressionBlockSize = 65536

// Options configures a pack run (spec §6 pack subcommand flags).
type Options struct {
	Log *log.Logger

	Version              pakfile.Version
	Variant              pakfile.Variant
	MountPoint           string
	CompressionBlockSize uint32
	Threads              int // 0 means inline, <0 means runtime.NumCPU()
}

// preparedEntry is the output of compressing (or passing through) one file,
// ready for the coordinator to place at a concrete offset.
type preparedEntry struct {
	job        fileJob
	uncompSize uint64
	method     pakfile.CompressionMethod
	blockSize  uint32
	// payload is the exact bytes that will follow the record header on
	// disk: the raw file content if uncompressed, or the concatenation of
	// zlib-compressed blocks otherwise.
	payload    []byte
	blockSpans []pakfile.CompressionBlock // relative to the start of payload
	sha1       [20]byte
}

// Run packs jobs into dest, writing a complete v1-3 archive (data records,
// legacy index, footer) and replacing dest atomically on success.
func Run(ctx context.Context, dest string, jobs []fileJob, opts Options) error {
	if opts.Version < pakfile.MinVersion || opts.Version > pakfile.MaxWritableVersion {
		return &pakerr.UnsupportedVersion{Version: int(opts.Version)}
	}
	blockSize := opts.CompressionBlockSize
	if blockSize == 0 {
		blockSize = DefaultCompressionBlockSize
	}

	prepared := make([]*preparedEntry, len(jobs))
	prepare := func(i int) error {
		p, err := prepareEntry(jobs[i], opts.Version, blockSize)
		if err != nil {
			return err
		}
		prepared[i] = p
		return nil
	}

	if opts.Threads == 0 {
		for i := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := prepare(i); err != nil {
				return err
			}
		}
	} else {
		threads := opts.Threads
		if threads < 0 {
			threads = runtime.NumCPU()
		}
		if threads > len(jobs) && len(jobs) > 0 {
			threads = len(jobs)
		}
		eg, egCtx := errgroup.WithContext(ctx)
		work := make(chan int)
		for w := 0; w < threads; w++ {
			eg.Go(func() error {
				for i := range work {
					if err := egCtx.Err(); err != nil {
						return err
					}
					if err := prepare(i); err != nil {
						return err
					}
				}
				return nil
			})
		}
		eg.Go(func() error {
			defer close(work)
			for i := range jobs {
				select {
				case work <- i:
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}
			return nil
		})
		if err := eg.Wait(); err != nil {
			return err
		}
	}

	return coordinate(dest, prepared, opts)
}

// prepareEntry reads one source file fully, compresses it if requested
// (splitting into CompressionBlockSize-sized uncompressed chunks per spec
// §3), and hashes the resulting on-disk bytes — everything a worker can do
// without knowing its final placement in the archive.
func prepareEntry(job fileJob, version pakfile.Version, blockSize uint32) (*preparedEntry, error) {
	f, err := os.Open(job.LocalPath)
	if err != nil {
		return nil, &pakerr.Io{Op: "open " + job.LocalPath, Err: err}
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, &pakerr.Io{Op: "read " + job.LocalPath, Err: err}
	}

	entry := &preparedEntry{job: job, uncompSize: uint64(len(raw)), blockSize: blockSize}

	if !job.Compress {
		entry.method = pakfile.CompressionMethod{Kind: pakfile.MethodNone, Name: "none"}
		entry.payload = raw
		entry.sha1, err = pakformat.SHA1Reader(newByteReader(raw))
		if err != nil {
			return nil, xerrors.Errorf("hashing %s: %w", job.LocalPath, err)
		}
		return entry, nil
	}

	entry.method = pakfile.CompressionMethod{Kind: pakfile.MethodZlib, Name: "Zlib"}

	// Versions below 3 predate per-record compression-block lists (spec
	// §4.2: the block array is only present "if !method.None() &&
	// version>=3"), so below v3 the whole file is one zlib stream with no
	// block boundaries to round-trip.
	chunkSize := uint32(len(raw))
	if version >= 3 {
		chunkSize = blockSize
	}
	if chunkSize == 0 {
		chunkSize = uint32(len(raw))
	}

	var scratch writerseeker.WriterSeeker
	var cur uint64
	for off := 0; off < len(raw); off += int(chunkSize) {
		end := off + int(chunkSize)
		if end > len(raw) {
			end = len(raw)
		}
		compressed, err := pakformat.DeflateBlock(raw[off:end])
		if err != nil {
			return nil, xerrors.Errorf("compressing %s: %w", job.LocalPath, err)
		}
		if _, err := scratch.Write(compressed); err != nil {
			return nil, xerrors.Errorf("buffering %s: %w", job.LocalPath, err)
		}
		entry.blockSpans = append(entry.blockSpans, pakfile.CompressionBlock{
			Start: cur,
			End:   cur + uint64(len(compressed)),
		})
		cur += uint64(len(compressed))
	}

	compressed := scratch.Bytes()

	// Spec §4.7: store uncompressed if the compressed form is not smaller
	// than the input — compression only pays for itself when it shrinks.
	if len(compressed) >= len(raw) {
		entry.method = pakfile.CompressionMethod{Kind: pakfile.MethodNone, Name: "none"}
		entry.blockSpans = nil
		entry.payload = raw
		entry.sha1, err = pakformat.SHA1Reader(newByteReader(raw))
		if err != nil {
			return nil, xerrors.Errorf("hashing %s: %w", job.LocalPath, err)
		}
		return entry, nil
	}

	entry.payload = compressed
	entry.sha1, err = pakformat.SHA1Reader(newByteReader(entry.payload))
	if err != nil {
		return nil, xerrors.Errorf("hashing %s: %w", job.LocalPath, err)
	}
	return entry, nil
}

func newByteReader(b []byte) io.Reader { return &byteReader{b: b} }

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

// coordinate is the single writer thread: it walks prepared entries in
// their original (deterministic) order, assigns each a monotonically
// increasing file offset, writes its record header and payload, then
// writes the legacy index and v1-3 footer, and finally swaps dest into
// place atomically via renameio so a crash mid-write never leaves a
// corrupt archive at the destination path.
func coordinate(dest string, prepared []*preparedEntry, opts Options) error {
	t, err := renameio.TempFile("", dest)
	if err != nil {
		return &pakerr.Io{Op: "create temp file for " + dest, Err: err}
	}
	defer t.Cleanup()

	var offset uint64
	records := make([]*pakfile.Record, len(prepared))
	for i, e := range prepared {
		rec := &pakfile.Record{
			Filename:             e.job.ArchiveName,
			Offset:               offset,
			Size:                 uint64(len(e.payload)),
			UncompressedSize:     e.uncompSize,
			Method:               e.method,
			SHA1:                 e.sha1,
			CompressionBlockSize: e.blockSize,
		}
		if opts.Version == 1 {
			var zero uint64
			rec.Timestamp = &zero
		}

		headerSize := pakfile.OnDiskHeaderSize(opts.Version, &pakfile.Record{
			Method: e.method,
			Blocks: spansAt(e.blockSpans, 0),
		})

		if len(e.blockSpans) > 0 {
			base := offset + uint64(headerSize)
			rec.Blocks = spansAt(e.blockSpans, base)
		}

		if err := pakfile.EncodeRecordHeader(t, opts.Version, rec); err != nil {
			return err
		}
		if _, err := t.Write(e.payload); err != nil {
			return &pakerr.Io{Op: "write payload for " + rec.Filename, Err: err}
		}

		offset += uint64(headerSize) + uint64(len(e.payload))
		records[i] = rec
	}

	indexOffset := offset
	idx := &pakfile.Index{MountPoint: opts.MountPoint, Records: records}

	var indexBuf writerseeker.WriterSeeker
	if err := pakfile.EncodeIndex(&indexBuf, opts.Version, idx); err != nil {
		return err
	}
	indexBytes := indexBuf.Bytes()
	indexSHA1, err := pakformat.SHA1Reader(newByteReader(indexBytes))
	if err != nil {
		return xerrors.Errorf("hashing index: %w", err)
	}
	if _, err := t.Write(indexBytes); err != nil {
		return &pakerr.Io{Op: "write index", Err: err}
	}

	footer := &pakfile.Footer{
		Version:     opts.Version,
		IndexOffset: indexOffset,
		IndexSize:   uint64(len(indexBytes)),
		IndexSHA1:   indexSHA1,
	}
	if err := pakfile.EncodeFooter(t, footer); err != nil {
		return err
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return &pakerr.Io{Op: "replace " + dest, Err: err}
	}
	return nil
}

func spansAt(spans []pakfile.CompressionBlock, base uint64) []pakfile.CompressionBlock {
	if spans == nil {
		return nil
	}
	out := make([]pakfile.CompressionBlock, len(spans))
	for i, s := range spans {
		out[i] = pakfile.CompressionBlock{Start: base + s.Start, End: base + s.End}
	}
	return out
}
