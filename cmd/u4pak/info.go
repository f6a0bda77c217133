package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
)

const infoHelp = `u4pak info [-flags] PAK

Print archive-level metadata: version, variant, mount point, record count,
total and uncompressed sizes, and (for v8+) the compression-method table.

Example:
  % u4pak info archive.pak
`

func cmdInfo(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("info", flag.ExitOnError)
	var (
		ignoreMagic  = fset.Bool("ignore-magic", false, "skip the footer magic check")
		forceVersion = fset.Int("force-version", 0, "assume this format version instead of autodetecting it")
		variantFlag  = fset.String("variant", "standard", "pak dialect: standard or conan-exiles")
	)
	fset.Usage = usage(fset, infoHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return &pakerr.Usage{Msg: "syntax: info [-flags] PAK"}
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

	fmt.Printf("version:     %d\n", pak.Version)
	fmt.Printf("variant:     %s\n", pak.Variant)
	fmt.Printf("mount point: %s\n", pak.MountPoint)
	fmt.Printf("records:     %d\n", len(pak.Records))

	var total, uncompressed uint64
	for _, r := range pak.Records {
		total += r.Size
		uncompressed += r.UncompressedSize
	}
	fmt.Printf("total size:        %d\n", total)
	fmt.Printf("uncompressed size: %d\n", uncompressed)

	if pak.IndexEncrypted {
		fmt.Println("index: encrypted (records not available)")
	}
	fmt.Printf("frozen index: %v\n", pak.FrozenIndex)

	guid := "<none>"
	if pak.EncryptionKeyGUID != ([16]byte{}) {
		guid = fmt.Sprintf("%x", pak.EncryptionKeyGUID)
	}
	fmt.Printf("encryption key guid: %s\n", guid)

	if len(pak.CompressionMethods) > 0 {
		fmt.Println("compression methods:")
		for i, m := range pak.CompressionMethods {
			fmt.Printf("  %d: %s\n", i, m)
		}
	}

	return nil
}
