package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
	"github.com/u4pak/u4pak/internal/pakfuse"
)

const mountHelp = `u4pak mount [-flags] PAK MOUNTPOINT

Serve an archive as a read-only filesystem at MOUNTPOINT, using FUSE.

Daemonization is out of scope (spec's Out-of-scope list); -foreground is
accepted for command-line compatibility but this process always runs in
the foreground.

Example:
  % u4pak mount archive.pak /mnt/p
`

func cmdMount(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("mount", flag.ExitOnError)
	var (
		ignoreMagic  = fset.Bool("ignore-magic", false, "skip the footer magic check")
		forceVersion = fset.Int("force-version", 0, "assume this format version instead of autodetecting it")
		variantFlag  = fset.String("variant", "standard", "pak dialect: standard or conan-exiles")
		_            = fset.Bool("foreground", true, "run in the foreground (always true; accepted for compatibility)")
		debug        = fset.Bool("debug", false, "enable FUSE debug logging")
		allowOther   = fset.Bool("allow-other", false, "allow users other than the mount owner to access the filesystem")
	)
	fset.Usage = usage(fset, mountHelp)
	fset.Parse(args)
	if fset.NArg() != 2 {
		return &pakerr.Usage{Msg: "syntax: mount [-flags] PAK MOUNTPOINT"}
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

	mountpoint := fset.Arg(1)
	logger := log.New(os.Stderr, "u4pak mount: ", log.LstdFlags)

	mounted, err := pakfuse.Mount(pak, mountpoint, pakfuse.MountOptions{
		Debug:      *debug,
		AllowOther: *allowOther,
		Log:        logger,
	})
	if err != nil {
		return err
	}

	return mounted.Join(ctx)
}
