package pakfile

import (
	"bytes"
	"io"
	"sort"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakformat"
	"golang.org/x/xerrors"
)

// Pak is a fully parsed archive: footer, index and the flattened record
// list, plus a handle onto the underlying byte-addressable file so engines
// can read record payloads without reopening it (spec §3).
type Pak struct {
	Version           Version
	Variant           Variant
	MountPoint        string
	CompressionMethods []string
	EncryptionKeyGUID [16]byte
	IndexEncrypted    bool
	FrozenIndex       bool
	Records           []*Record

	source io.ReaderAt
	size   int64
}

// OpenOptions controls how Open tolerates ambiguous or unusual archives
// (spec §6).
type OpenOptions struct {
	IgnoreMagic  bool
	ForceVersion Version
	Variant      Variant
}

// Open parses the footer and index of a pak archive accessible through src,
// whose total size is size bytes (spec §4.4, data flow in spec §3: "open →
// read footer → read index → construct record list").
func Open(src io.ReaderAt, size int64, opts OpenOptions) (*Pak, error) {
	footer, err := DecodeFooter(src, size, DecodeFooterOptions{
		IgnoreMagic:  opts.IgnoreMagic,
		ForceVersion: opts.ForceVersion,
	})
	if err != nil {
		return nil, err
	}

	if footer.IndexOffset+footer.IndexSize > uint64(size) {
		return nil, &pakerr.InvalidRecord{Reason: "index extends past end of file"}
	}

	indexSection := io.NewSectionReader(src, int64(footer.IndexOffset), int64(footer.IndexSize))

	if footer.Encrypted {
		// Non-goal: encrypted payloads are rejected, but metadata (including
		// the fact that the index itself is encrypted) is still surfaced
		// (spec §1).
		return &Pak{
			Version:            footer.Version,
			Variant:            opts.Variant,
			CompressionMethods: footer.CompressionMethods,
			EncryptionKeyGUID:  footer.EncryptionKeyGUID,
			IndexEncrypted:     true,
			FrozenIndex:        footer.FrozenIndex,
			source:             src,
			size:               size,
		}, nil
	}

	if err := verifyIndexSHA1(src, footer); err != nil {
		return nil, err
	}

	// footer.CompressionMethods starts with the implicit "none"; the record
	// decoders resolve on-disk method index i against the stored slots only.
	var methods []string
	if len(footer.CompressionMethods) > 0 {
		methods = footer.CompressionMethods[1:]
	}

	var idx *Index
	if footer.Version >= 10 {
		idx, err = openModernIndex(src, indexSection, methods, opts.Variant)
	} else {
		idx, err = decodeLegacyIndex(indexSection, footer.Version, opts.Variant, methods)
	}
	if err != nil {
		return nil, xerrors.Errorf("index: %w", err)
	}

	return &Pak{
		Version:            footer.Version,
		Variant:            opts.Variant,
		MountPoint:         idx.MountPoint,
		CompressionMethods: footer.CompressionMethods,
		EncryptionKeyGUID:  footer.EncryptionKeyGUID,
		FrozenIndex:        footer.FrozenIndex,
		Records:            idx.Records,
		source:             src,
		size:               size,
	}, nil
}

func verifyIndexSHA1(src io.ReaderAt, footer *Footer) error {
	sr := io.NewSectionReader(src, int64(footer.IndexOffset), int64(footer.IndexSize))
	got, err := pakformat.SHA1Reader(sr)
	if err != nil {
		return xerrors.Errorf("hashing index: %w", err)
	}
	if got != footer.IndexSHA1 {
		return &pakerr.HashMismatch{Path: "<index>", Expected: footer.IndexSHA1, Got: got}
	}
	return nil
}

// openModernIndex reads the v≥10 index: the sequential modernIndexHeader,
// then the full directory index (preferred) fetched from its own pointer
// elsewhere in the file, falling back to UnsupportedFeature when only a
// path-hash index is present (spec §4.3).
func openModernIndex(src io.ReaderAt, indexSection io.Reader, methods []string, variant Variant) (*Index, error) {
	h, err := decodeModernIndexHeader(indexSection)
	if err != nil {
		return nil, err
	}

	if !h.HasFullDirectoryIndex {
		if h.HasPathHashIndex {
			return nil, &pakerr.UnsupportedFeature{Name: "path hash index only"}
		}
		return nil, &pakerr.InvalidRecord{Reason: "no directory index present"}
	}

	fdiSection := io.NewSectionReader(src, int64(h.FullDirectoryIndexOffset), int64(h.FullDirectoryIndexSize))
	fdiBytes, err := io.ReadAll(fdiSection)
	if err != nil {
		return nil, xerrors.Errorf("reading full directory index: %w", err)
	}
	if got, err := pakformat.SHA1Reader(bytes.NewReader(fdiBytes)); err != nil {
		return nil, xerrors.Errorf("hashing full directory index: %w", err)
	} else if got != h.FullDirectoryIndexSHA1 {
		return nil, &pakerr.HashMismatch{Path: "<full-directory-index>", Expected: h.FullDirectoryIndexSHA1, Got: got}
	}

	records, err := decodeFullDirectoryIndex(fdiBytes, h.EncodedEntries, variant, methods)
	if err != nil {
		return nil, err
	}

	return &Index{MountPoint: h.MountPoint, PathHashSeed: h.PathHashSeed, Records: records}, nil
}

// PayloadReader returns a reader over rec's raw (still compressed, if
// applicable) payload bytes as one contiguous span, skipping the repeated
// on-disk record header and the version's unknown data-record prefix (spec
// §4.2, §9 S3). For compressed records the span is derived from the first
// and last compression block, since v≥10 EncodedRecords have no repeated
// header of their own (those offsets are already normalized by
// decodeEncodedRecord); callers that care about individual blocks should
// use BlockReader instead.
func (p *Pak) PayloadReader(rec *Record) io.Reader {
	if !rec.Method.None() && len(rec.Blocks) > 0 {
		start := int64(rec.Blocks[0].Start)
		end := int64(rec.Blocks[len(rec.Blocks)-1].End)
		return io.NewSectionReader(p.source, start, end-start)
	}
	return p.PayloadSectionReader(rec)
}

// PayloadSectionReader returns a ReaderAt over rec's raw, uncompressed
// on-disk payload bytes (the rec.Method == None case), for callers that
// need random access rather than a streaming Read — namely internal/pakfuse,
// which services pread-style filesystem reads against stored files (spec
// §4.8, §9 "Shared file access: use positioned reads").
func (p *Pak) PayloadSectionReader(rec *Record) *io.SectionReader {
	headerSize := 0
	if p.Version < 10 {
		headerSize = OnDiskHeaderSize(p.Version, rec)
	}
	var prefix int
	if !rec.Method.None() {
		prefix = dataRecordPrefixLen(p.Version, p.Variant)
	}
	start := int64(rec.Offset) + int64(headerSize) + int64(prefix)
	return io.NewSectionReader(p.source, start, int64(rec.Size))
}

// BlockReader returns a reader over one compressed compression block's raw
// bytes, using its already-normalized absolute file offsets.
func (p *Pak) BlockReader(b CompressionBlock) io.Reader {
	return io.NewSectionReader(p.source, int64(b.Start), int64(b.Len()))
}

// SortedByOffset returns a copy of p.Records sorted by on-disk offset,
// which is how a well-formed archive is laid out but which the codec must
// not assume (spec §3 invariant).
func (p *Pak) SortedByOffset() []*Record {
	out := make([]*Record, len(p.Records))
	copy(out, p.Records)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
