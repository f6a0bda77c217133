package pakfile

import (
	"io"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakformat"
	"golang.org/x/xerrors"
)

// Record is one archived file's metadata (spec §3). Filename is populated by
// the index decoder, not by decodeRecordHeader itself — the legacy index
// stores it as a sized string preceding the record header, and the v≥10
// full directory index reconstructs it from the dir/basename map (§4.3).
type Record struct {
	Filename             string
	Offset               uint64
	Size                 uint64
	UncompressedSize     uint64
	Method               CompressionMethod
	Timestamp            *uint64 // v1 only
	SHA1                 [20]byte
	Blocks               []CompressionBlock
	Encrypted            bool
	CompressionBlockSize uint32
}

// recordHeaderSize returns the size in bytes of the repeated record header
// that precedes a record's payload in the data section (spec §4.2, §9's
// S3 scenario), given the already-decoded method/block-count/timestamp.
// This is also used to normalize v≥5 relative compression-block offsets to
// absolute file offsets.
func recordHeaderSize(version Version, hasTimestamp bool, method CompressionMethod, blockCount int) int {
	size := 8 + 8 + 8 + 1 // offset, size, uncompressedSize, method byte
	if hasTimestamp {
		size += 8
	}
	size += 20 // sha1
	if !method.None() && version >= 3 {
		size += 4 + blockCount*16
	}
	size += 1 + 4 // encrypted byte, compressionBlockSize u32
	return size
}

// decodeRecordHeader reads the fixed-layout record header (everything
// after the filename) shared by legacy IndexRecords and the repeated
// header copy that precedes a record's payload in the data section.
func decodeRecordHeader(r io.Reader, version Version, variant Variant, methods []string) (*Record, error) {
	offset, err := pakformat.ReadU64(r)
	if err != nil {
		return nil, xerrors.Errorf("record offset: %w", err)
	}
	size, err := pakformat.ReadU64(r)
	if err != nil {
		return nil, xerrors.Errorf("record size: %w", err)
	}
	uncompressedSize, err := pakformat.ReadU64(r)
	if err != nil {
		return nil, xerrors.Errorf("record uncompressed_size: %w", err)
	}

	methodByte, err := pakformat.ReadU8(r)
	if err != nil {
		return nil, xerrors.Errorf("record compression method: %w", err)
	}
	var method CompressionMethod
	if version >= 8 {
		method, err = compressionMethodIndexed(int(methodByte), methods)
	} else {
		method, err = compressionMethodFixed(methodByte)
	}
	if err != nil {
		return nil, err
	}

	var timestamp *uint64
	if version == 1 {
		ts, err := pakformat.ReadU64(r)
		if err != nil {
			return nil, xerrors.Errorf("record timestamp: %w", err)
		}
		timestamp = &ts
	}

	var sha1 [20]byte
	if _, err := io.ReadFull(r, sha1[:]); err != nil {
		return nil, xerrors.Errorf("record sha1: %w", err)
	}

	var rawBlocks []CompressionBlock
	if !method.None() && version >= 3 {
		count, err := pakformat.ReadU32(r)
		if err != nil {
			return nil, xerrors.Errorf("record block count: %w", err)
		}
		rawBlocks = make([]CompressionBlock, count)
		for i := range rawBlocks {
			start, err := pakformat.ReadU64(r)
			if err != nil {
				return nil, xerrors.Errorf("record block %d start: %w", i, err)
			}
			end, err := pakformat.ReadU64(r)
			if err != nil {
				return nil, xerrors.Errorf("record block %d end: %w", i, err)
			}
			rawBlocks[i] = CompressionBlock{Start: start, End: end}
		}
	}

	encryptedByte, err := pakformat.ReadU8(r)
	if err != nil {
		return nil, xerrors.Errorf("record encrypted flag: %w", err)
	}
	compressionBlockSize, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("record compression block size: %w", err)
	}

	rec := &Record{
		Offset:               offset,
		Size:                 size,
		UncompressedSize:     uncompressedSize,
		Method:               method,
		Timestamp:            timestamp,
		SHA1:                 sha1,
		Encrypted:            encryptedByte != 0,
		CompressionBlockSize: compressionBlockSize,
	}

	if err := normalizeBlocks(rec, version, variant, rawBlocks); err != nil {
		return nil, err
	}

	if err := validateRecord(rec, version); err != nil {
		return nil, err
	}

	return rec, nil
}

// normalizeBlocks converts on-disk block offsets (which may be absolute or
// relative to rec.Offset, depending on version) into absolute file offsets
// held in memory, per spec §3's CompressionBlock definition and §9's S3
// scenario.
func normalizeBlocks(rec *Record, version Version, variant Variant, raw []CompressionBlock) error {
	if len(raw) == 0 {
		rec.Blocks = nil
		return nil
	}
	if !relativeBlockOffsets(version) {
		rec.Blocks = raw
		return nil
	}
	base := rec.Offset + uint64(recordHeaderSize(version, version == 1, rec.Method, len(raw))) + uint64(dataRecordPrefixLen(version, variant))
	blocks := make([]CompressionBlock, len(raw))
	for i, b := range raw {
		if int64(b.Start) < 0 || int64(b.End) < 0 {
			return &pakerr.InvalidRecord{Path: rec.Filename, Reason: "negative relative block offset"}
		}
		blocks[i] = CompressionBlock{Start: base + b.Start, End: base + b.End}
	}
	rec.Blocks = blocks
	return nil
}

// denormalizeBlocks is the write-side inverse of normalizeBlocks, used only
// for versions ≤3 (the only versions this codec writes), which always store
// absolute offsets, so it is the identity transform — kept as a named step
// so encodeRecordHeader reads the same way the decoder does.
func denormalizeBlocks(rec *Record, version Version) []CompressionBlock {
	return rec.Blocks
}

// validateRecord checks the invariants from spec §3 that do not require
// reading the payload itself.
func validateRecord(rec *Record, version Version) error {
	if rec.Method.None() {
		if rec.Size != rec.UncompressedSize {
			return &pakerr.InvalidRecord{Path: rec.Filename, Reason: "uncompressed method but size != uncompressed_size"}
		}
		if len(rec.Blocks) != 0 {
			return &pakerr.InvalidRecord{Path: rec.Filename, Reason: "uncompressed method but blocks present"}
		}
		return nil
	}
	if version < 3 {
		return nil // no blocks to check pre-v3
	}
	var total uint64
	var prevEnd uint64
	for i, b := range rec.Blocks {
		if b.End < b.Start {
			return &pakerr.InvalidRecord{Path: rec.Filename, Reason: "block end before start"}
		}
		if i > 0 && b.Start < prevEnd {
			return &pakerr.InvalidRecord{Path: rec.Filename, Reason: "overlapping compression blocks"}
		}
		total += b.Len()
		prevEnd = b.End
	}
	if total != rec.Size {
		return &pakerr.InvalidRecord{Path: rec.Filename, Reason: "sum of block lengths != record size"}
	}
	for i := 0; i < len(rec.Blocks)-1; i++ {
		if uint64(rec.Blocks[i].Len()) != uint64(rec.CompressionBlockSize) {
			return &pakerr.InvalidRecord{Path: rec.Filename, Reason: "non-terminal block has wrong uncompressed-span length"}
		}
	}
	return nil
}

// encodeRecordHeader writes the fixed-layout record header shared by legacy
// IndexRecords and the repeated in-data header. Only versions ≤3 are
// supported (spec §1 Non-goals); callers must check the version first.
func encodeRecordHeader(w io.Writer, version Version, rec *Record) error {
	if version > MaxWritableVersion {
		return &pakerr.UnsupportedVersion{Version: int(version)}
	}
	if err := pakformat.WriteU64(w, rec.Offset); err != nil {
		return err
	}
	if err := pakformat.WriteU64(w, rec.Size); err != nil {
		return err
	}
	if err := pakformat.WriteU64(w, rec.UncompressedSize); err != nil {
		return err
	}
	if err := writeByte(w, compressionMethodFixedByte(rec.Method)); err != nil {
		return err
	}
	if version == 1 {
		var ts uint64
		if rec.Timestamp != nil {
			ts = *rec.Timestamp
		}
		if err := pakformat.WriteU64(w, ts); err != nil {
			return err
		}
	}
	if _, err := w.Write(rec.SHA1[:]); err != nil {
		return xerrors.Errorf("write record sha1: %w", err)
	}
	if !rec.Method.None() && version >= 3 {
		blocks := denormalizeBlocks(rec, version)
		if err := pakformat.WriteU32(w, uint32(len(blocks))); err != nil {
			return err
		}
		for _, b := range blocks {
			if err := pakformat.WriteU64(w, b.Start); err != nil {
				return err
			}
			if err := pakformat.WriteU64(w, b.End); err != nil {
				return err
			}
		}
	}
	var encByte byte
	if rec.Encrypted {
		encByte = 1
	}
	if err := writeByte(w, encByte); err != nil {
		return err
	}
	return pakformat.WriteU32(w, rec.CompressionBlockSize)
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	if err != nil {
		return xerrors.Errorf("write byte: %w", err)
	}
	return nil
}

// ExpectedBlockLen returns the uncompressed length rec.Blocks[i] must inflate
// to (spec §4.5 step 3): CompressionBlockSize for every block but the last,
// and UncompressedSize's remainder modulo CompressionBlockSize for the last
// one — or CompressionBlockSize itself when that remainder is zero, since an
// exact multiple still fills the final block completely.
func (rec *Record) ExpectedBlockLen(i int) uint64 {
	if i != len(rec.Blocks)-1 {
		return uint64(rec.CompressionBlockSize)
	}
	if rec.CompressionBlockSize == 0 {
		return rec.UncompressedSize
	}
	if rem := rec.UncompressedSize % uint64(rec.CompressionBlockSize); rem != 0 {
		return rem
	}
	return uint64(rec.CompressionBlockSize)
}

// OnDiskHeaderSize returns the size of rec's repeated record header as it
// would appear in the data section for version.
func OnDiskHeaderSize(version Version, rec *Record) int {
	return recordHeaderSize(version, version == 1, rec.Method, len(rec.Blocks))
}

// EncodeRecordHeader is the exported form of encodeRecordHeader, for the
// pack engine.
func EncodeRecordHeader(w io.Writer, version Version, rec *Record) error {
	return encodeRecordHeader(w, version, rec)
}
