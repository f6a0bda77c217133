package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/u4pak/u4pak/internal/checkengine"
	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
)

const checkHelp = `u4pak check [-flags] PAK

Verify every record's integrity: the SHA-1 of its on-disk (compressed)
payload always, and additionally each compression block's decompressed
length with -decompressed-hash.

Example:
  % u4pak check archive.pak
  % u4pak check -decompressed-hash -threads=1 archive.pak
`

func cmdCheck(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("check", flag.ExitOnError)
	var (
		ignoreMagic  = fset.Bool("ignore-magic", false, "skip the footer magic check")
		forceVersion = fset.Int("force-version", 0, "assume this format version instead of autodetecting it")
		variantFlag  = fset.String("variant", "standard", "pak dialect: standard or conan-exiles")
		verbose      = fset.Bool("verbose", false, "print one line per record, not just failures")
		decompressed = fset.Bool("decompressed-hash", false, "additionally decompress every block and check for decode errors")
		threads      = fset.Int("threads", -1, "worker count; 0 disables concurrency, <0 means NumCPU")
		print0       = fset.Bool("print0", false, "NUL-separate printed paths instead of newline-separating them")
	)
	fset.Usage = usage(fset, checkHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return &pakerr.Usage{Msg: "syntax: check [-flags] PAK"}
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

	results, err := checkengine.Run(ctx, pak, checkengine.Options{
		Threads: *threads,
		Rehash:  *decompressed,
	})
	if err != nil {
		return err
	}

	sep := "\n"
	if *print0 {
		sep = "\x00"
	}

	progress := newProgressCounter("checked", len(results))
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
			fmt.Printf("OK %s%s", r.Record.Filename, sep)
		}
	}
	progress.clear()

	if failed > 0 {
		return fmt.Errorf("%d of %d records failed the check", failed, len(results))
	}
	return nil
}
