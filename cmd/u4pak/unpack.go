package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
	"github.com/u4pak/u4pak/internal/unpackengine"
)

const unpackHelp = `u4pak unpack [-flags] PAK

Extract an archive's records to a directory, preserving each record's
relative path under that directory. The archive's mount point is not
applied.

Example:
  % u4pak unpack -output=out archive.pak
  % u4pak unpack -paths=a.txt,dir/b.bin archive.pak
`

func cmdUnpack(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("unpack", flag.ExitOnError)
	var (
		ignoreMagic  = fset.Bool("ignore-magic", false, "skip the footer magic check")
		forceVersion = fset.Int("force-version", 0, "assume this format version instead of autodetecting it")
		variantFlag  = fset.String("variant", "standard", "pak dialect: standard or conan-exiles")
		output       = fset.String("output", ".", "directory to extract into")
		threads      = fset.Int("threads", -1, "worker count; 0 disables concurrency, <0 means NumCPU")
		verbose      = fset.Bool("verbose", false, "print one line per extracted record")
		paths        = fset.String("paths", "", "comma-separated list of record paths to extract (default: all)")
	)
	fset.Usage = usage(fset, unpackHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return &pakerr.Usage{Msg: "syntax: unpack [-flags] PAK"}
	}

	variant, err := pakfile.ParseVariant(*variantFlag)
	if err != nil {
		return &pakerr.Usage{Msg: err.Error()}
	}

	pak, f, err := openPak(fset.Arg(0), *ignoreMagic, *forceVersion, variant)
	if err != nil {
		return err
	}
	defer f.Close()

	var selected map[string]bool
	if *paths != "" {
		selected = make(map[string]bool)
		for _, p := range strings.Split(*paths, ",") {
			selected[p] = true
		}
	}

	results, err := unpackengine.Run(ctx, pak, unpackengine.Options{
		OutputDir: *output,
		Threads:   *threads,
		Paths:     selected,
	})
	if err != nil {
		return err
	}

	progress := newProgressCounter("extracted", len(results))
	failed := 0
	for i, r := range results {
		progress.update(i + 1)
		if r.Err != nil {
			failed++
			progress.clear()
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", r.Record.Filename, r.Err)
			continue
		}
		if *verbose {
			progress.clear()
			fmt.Printf("extracted %s\n", r.Record.Filename)
		}
	}
	progress.clear()
	if failed > 0 {
		return fmt.Errorf("%d of %d records failed to extract", failed, len(results))
	}
	return nil
}
