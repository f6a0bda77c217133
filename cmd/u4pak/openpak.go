package main

import (
	"os"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakfile"
)

// openPak opens the pak at path and parses its footer and index, applying
// the --ignore-magic / --force-version / --variant escape hatches every
// subcommand in spec §6 accepts. The caller owns the returned *os.File and
// must close it once done with the returned *pakfile.Pak (which reads
// record payloads through it lazily).
func openPak(path string, ignoreMagic bool, forceVersion int, variant pakfile.Variant) (*pakfile.Pak, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &pakerr.Io{Op: "open " + path, Err: err}
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, &pakerr.Io{Op: "stat " + path, Err: err}
	}

	pak, err := pakfile.Open(f, fi.Size(), pakfile.OpenOptions{
		IgnoreMagic:  ignoreMagic,
		ForceVersion: pakfile.Version(forceVersion),
		Variant:      variant,
	})
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return pak, f, nil
}
