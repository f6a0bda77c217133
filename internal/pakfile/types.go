// Package pakfile implements the pak binary codec: the in-memory Record and
// Pak types (spec §3), the record/index/footer decoders and encoders
// (spec §4.2-4.4), and the version/variant dispatch that every one of them
// goes through (spec §9 — "do not attempt a type-parameterized hierarchy").
package pakfile

import (
	"fmt"

	"github.com/u4pak/u4pak/internal/pakerr"
)

// Version is a pak format version, 1 through 11 inclusive.
type Version int

// MinVersion and MaxVersion bound the versions this codec understands.
const (
	MinVersion Version = 1
	MaxVersion Version = 11

	// MaxWritableVersion is the highest version this codec can emit. Spec §1:
	// "Write support for versions ≥4 ... is out of scope" because the four
	// (or, for Conan Exiles, twenty) unknown bytes preceding compressed data
	// records at v≥4 have no known meaning.
	MaxWritableVersion Version = 3
)

func (v Version) Valid() bool { return v >= MinVersion && v <= MaxVersion }

// Variant is a per-game dialect of the pak format.
type Variant int

const (
	Standard Variant = iota
	ConanExiles
)

func (va Variant) String() string {
	if va == ConanExiles {
		return "conan-exiles"
	}
	return "standard"
}

// ParseVariant parses the --variant flag value.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "", "standard":
		return Standard, nil
	case "conan-exiles":
		return ConanExiles, nil
	default:
		return Standard, fmt.Errorf("unknown variant %q", s)
	}
}

// dataRecordPrefixLen returns the number of unknown bytes the codec must
// skip immediately before a compressed data record's payload at v≥4 (spec
// §4.2, §9 Open Questions: the reference author never learned what these
// bytes mean, which is also why write support stops at v3).
func dataRecordPrefixLen(v Version, variant Variant) int {
	if v < 4 {
		return 0
	}
	if variant == ConanExiles {
		return 20
	}
	return 4
}

// relativeBlockOffsets reports whether a version stores CompressionBlock
// offsets relative to the record's Offset field (true, v≥7) or as absolute
// file offsets (false, v≤4). Spec §9's Open Questions: whether the switch
// happened at v5 or v6 is unknown, so v5 and v6 are treated like v7.
func relativeBlockOffsets(v Version) bool {
	return v >= 5
}

// footerSize returns the fixed on-disk footer size for version v (spec §6).
func footerSize(v Version) int {
	switch {
	case v >= 1 && v <= 3:
		return 44
	case v >= 4 && v <= 6:
		return 45
	case v == 7:
		return 65
	case v == 8:
		return 193
	case v == 9:
		return 226
	case v >= 10 && v <= 11:
		return 225
	default:
		return 0
	}
}

// MethodKind distinguishes the fixed, pre-v8 compression methods from the
// v≥8 indexed form that names methods through the footer's method table.
type MethodKind int

const (
	MethodNone MethodKind = iota
	MethodZlib
	MethodBiasMemory
	MethodBiasSpeed
	MethodIndexed
)

// CompressionMethod identifies how a record's payload is stored. Pre-v8
// archives encode one of the four fixed kinds directly; v≥8 archives encode
// a byte index into the footer's compression-method name table, with index
// 0 implicitly meaning "None" (spec §6).
type CompressionMethod struct {
	Kind  MethodKind
	Index int    // raw on-disk byte, meaningful when Kind == MethodIndexed
	Name  string // human-readable name, always populated
}

// None reports whether the method performs no compression.
func (m CompressionMethod) None() bool { return m.Kind == MethodNone }

// Zlib reports whether the method is (or resolves to) zlib, the only
// compressed form this codec can inflate or deflate (spec §1 Non-goals).
func (m CompressionMethod) Zlib() bool { return m.Kind == MethodZlib || m.Name == "Zlib" }

func (m CompressionMethod) String() string { return m.Name }

func compressionMethodFixed(b byte) (CompressionMethod, error) {
	switch b {
	case 0:
		return CompressionMethod{Kind: MethodNone, Name: "none"}, nil
	case 1:
		return CompressionMethod{Kind: MethodZlib, Name: "Zlib"}, nil
	case 2:
		return CompressionMethod{Kind: MethodBiasMemory, Name: "BiasMemory"}, nil
	case 3:
		return CompressionMethod{Kind: MethodBiasSpeed, Name: "BiasSpeed"}, nil
	default:
		return CompressionMethod{}, &pakerr.InvalidRecord{Reason: fmt.Sprintf("unknown compression method byte %d", b)}
	}
}

func compressionMethodFixedByte(m CompressionMethod) byte {
	switch m.Kind {
	case MethodNone:
		return 0
	case MethodZlib:
		return 1
	case MethodBiasMemory:
		return 2
	case MethodBiasSpeed:
		return 3
	default:
		return 0
	}
}

// compressionMethodIndexed resolves a v≥8 method-table index against the
// archive's parsed method names. Index 0 is always "None" regardless of
// table contents.
func compressionMethodIndexed(index int, methods []string) (CompressionMethod, error) {
	if index == 0 {
		return CompressionMethod{Kind: MethodNone, Index: 0, Name: "none"}, nil
	}
	idx := index - 1
	if idx < 0 || idx >= len(methods) {
		return CompressionMethod{}, &pakerr.InvalidRecord{Reason: fmt.Sprintf("compression method index %d out of range for %d-entry method table", index, len(methods))}
	}
	name := methods[idx]
	m := CompressionMethod{Kind: MethodIndexed, Index: index, Name: name}
	if name == "Zlib" {
		m.Kind = MethodZlib
	}
	return m, nil
}

// CompressionBlock is one contiguous compressed span of a record's payload.
// Offsets are always normalized to absolute file offsets once in memory;
// see relativeBlockOffsets for the on-disk v≥7 relative encoding.
type CompressionBlock struct {
	Start uint64
	End   uint64
}

// Len returns the number of compressed bytes the block spans.
func (b CompressionBlock) Len() uint64 { return b.End - b.Start }
