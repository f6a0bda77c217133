package main

import (
	"context"
	"flag"

	"github.com/u4pak/u4pak/internal/packengine"
	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
)

const packHelp = `u4pak pack -version=V [-flags] PAK SOURCE...

Build an archive from one or more source trees. Each SOURCE is a local
filesystem path, optionally prefixed with a comma-separated option list and
a colon: "zlib:" compresses its contents, "rename=NEW_NAME:" changes its
archive path, and "zlib,rename=NEW_NAME:" does both.

Only versions 1-3 can be written (spec's Non-goals: the prefix bytes
preceding v4+ compressed data records are undocumented).

Example:
  % u4pak pack -version=3 archive.pak assets/
  % u4pak pack -version=1 archive.pak zlib:assets/ rename=readme.txt:README.md
`

func cmdPack(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("pack", flag.ExitOnError)
	var (
		version    = fset.Int("version", 3, "pak format version to write (1-3)")
		mountPoint = fset.String("mount-point", "", "mount point string recorded in the index")
		blockSize  = fset.Int("compression-block-size", packengine.DefaultCompressionBlockSize, "compression block size in bytes")
		threads    = fset.Int("threads", -1, "worker count; 0 disables concurrency, <0 means NumCPU")
	)
	fset.Usage = usage(fset, packHelp)
	fset.Parse(args)
	if fset.NArg() < 2 {
		return &pakerr.Usage{Msg: "syntax: pack -version=V [-flags] PAK SOURCE..."}
	}

	dest := fset.Arg(0)
	sourceArgs := fset.Args()[1:]

	specs := make([]packengine.SourceSpec, len(sourceArgs))
	for i, raw := range sourceArgs {
		spec, err := packengine.ParseSource(raw)
		if err != nil {
			return err
		}
		specs[i] = spec
	}

	jobs, err := packengine.Walk(specs)
	if err != nil {
		return err
	}

	return packengine.Run(ctx, dest, jobs, packengine.Options{
		Version:              pakfile.Version(*version),
		MountPoint:           *mountPoint,
		CompressionBlockSize: uint32(*blockSize),
		Threads:              *threads,
	})
}
