package pakfile

import (
	"io"
	"math"
	"math/bits"

	"github.com/u4pak/u4pak/internal/pakformat"
	"golang.org/x/xerrors"
)

// EncodedRecord is the v≥10 bit-packed record representation referenced
// from the full directory index (spec §3). Unlike the legacy record, it
// carries no filename (the FDI supplies that) and no SHA-1 (the format
// simply does not store one per entry at this version).
//
// Header word layout (spec §3):
//
//	bits 0-5   compression-block-size exponent
//	bits 6-21  block count
//	bit  22    encrypted
//	bits 23-28 compression-method index
//	bit  29    size fits in 32 bits
//	bit  30    uncompressed_size fits in 32 bits
//	bit  31    offset fits in 32 bits
//
// Block start/end offsets are not stored; the decoder reconstructs them by
// walking the per-block sizes cumulatively, since each block immediately
// follows the previous one in the data section. The first block is taken to
// start right after the unknown data-record prefix (4 bytes, 20 for Conan
// Exiles) that follows Offset; no repeated record header is assumed there.
func decodeEncodedRecord(r io.Reader, variant Variant, methods []string) (*Record, error) {
	header, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("encoded record header: %w", err)
	}

	exponent := header & 0x3F
	blockCount := (header >> 6) & 0xFFFF
	encrypted := (header>>22)&1 != 0
	methodIndex := (header >> 23) & 0x3F
	sizeFits32 := (header>>29)&1 != 0
	uncompressedSizeFits32 := (header>>30)&1 != 0
	offsetFits32 := (header>>31)&1 != 0

	offset, err := readMaybe32(r, offsetFits32)
	if err != nil {
		return nil, xerrors.Errorf("encoded record offset: %w", err)
	}
	uncompressedSize, err := readMaybe32(r, uncompressedSizeFits32)
	if err != nil {
		return nil, xerrors.Errorf("encoded record uncompressed_size: %w", err)
	}

	method, err := compressionMethodIndexed(int(methodIndex), methods)
	if err != nil {
		return nil, err
	}

	var size uint64
	if !method.None() {
		size, err = readMaybe32(r, sizeFits32)
		if err != nil {
			return nil, xerrors.Errorf("encoded record size: %w", err)
		}
	} else {
		size = uncompressedSize
	}

	blockSize := uint32(1) << exponent

	var blockSizes []uint32
	if blockCount == 1 && !encrypted {
		blockSizes = []uint32{uint32(size)}
	} else if blockCount > 0 {
		blockSizes = make([]uint32, blockCount)
		for i := range blockSizes {
			bs, err := pakformat.ReadU32(r)
			if err != nil {
				return nil, xerrors.Errorf("encoded record block %d size: %w", i, err)
			}
			blockSizes[i] = bs
		}
	}

	var blocks []CompressionBlock
	if !method.None() {
		// The first block begins after this record's unknown data-record
		// prefix, same as every other v≥4 compressed record (spec §1, §9).
		// FDI entries only exist at v≥10, so the prefix is unconditional.
		prefixLen := 4
		if variant == ConanExiles {
			prefixLen = 20
		}
		cur := offset + uint64(prefixLen)
		blocks = make([]CompressionBlock, len(blockSizes))
		for i, bs := range blockSizes {
			blocks[i] = CompressionBlock{Start: cur, End: cur + uint64(bs)}
			cur += uint64(bs)
		}
	}

	rec := &Record{
		Offset:               offset,
		Size:                 size,
		UncompressedSize:     uncompressedSize,
		Method:               method,
		Encrypted:            encrypted,
		CompressionBlockSize: blockSize,
		Blocks:               blocks,
	}
	if err := validateRecord(rec, MaxVersion); err != nil {
		return nil, err
	}
	return rec, nil
}

// encodeEncodedRecord is the write-side inverse of decodeEncodedRecord, used
// only by tests to build golden v≥10 fixtures and to exercise the
// round-trip invariant from spec §8 ("EncodedRecord round-trips"); the pack
// engine itself never writes v≥10 archives (spec §1 Non-goals).
func encodeEncodedRecord(w io.Writer, rec *Record) error {
	if rec.CompressionBlockSize == 0 || rec.CompressionBlockSize&(rec.CompressionBlockSize-1) != 0 {
		return xerrors.Errorf("encoded record: compression block size %d is not a power of two", rec.CompressionBlockSize)
	}
	exponent := uint32(bits.TrailingZeros32(rec.CompressionBlockSize))
	if exponent > 0x3F {
		return xerrors.Errorf("encoded record: compression block size exponent overflow")
	}

	blockCount := uint32(len(rec.Blocks))
	sizeFits32 := fitsU32(rec.Size)
	uncompressedSizeFits32 := fitsU32(rec.UncompressedSize)
	offsetFits32 := fitsU32(rec.Offset)

	var methodIndex uint32
	if rec.Method.Kind == MethodIndexed || rec.Method.Kind == MethodZlib {
		methodIndex = uint32(rec.Method.Index)
		if rec.Method.Kind == MethodZlib && rec.Method.Index == 0 {
			methodIndex = 1
		}
	}

	header := exponent & 0x3F
	header |= (blockCount & 0xFFFF) << 6
	if rec.Encrypted {
		header |= 1 << 22
	}
	header |= (methodIndex & 0x3F) << 23
	if sizeFits32 {
		header |= 1 << 29
	}
	if uncompressedSizeFits32 {
		header |= 1 << 30
	}
	if offsetFits32 {
		header |= 1 << 31
	}

	if err := pakformat.WriteU32(w, header); err != nil {
		return err
	}
	if err := writeMaybe32(w, rec.Offset, offsetFits32); err != nil {
		return err
	}
	if err := writeMaybe32(w, rec.UncompressedSize, uncompressedSizeFits32); err != nil {
		return err
	}
	if !rec.Method.None() {
		if err := writeMaybe32(w, rec.Size, sizeFits32); err != nil {
			return err
		}
	}

	omit := blockCount == 1 && !rec.Encrypted
	if !omit {
		for i, b := range rec.Blocks {
			if err := pakformat.WriteU32(w, uint32(b.Len())); err != nil {
				return xerrors.Errorf("write block %d size: %w", i, err)
			}
		}
	}
	return nil
}

func fitsU32(v uint64) bool { return v <= math.MaxUint32 }

func readMaybe32(r io.Reader, is32 bool) (uint64, error) {
	if is32 {
		v, err := pakformat.ReadU32(r)
		return uint64(v), err
	}
	return pakformat.ReadU64(r)
}

func writeMaybe32(w io.Writer, v uint64, is32 bool) error {
	if is32 {
		return pakformat.WriteU32(w, uint32(v))
	}
	return pakformat.WriteU64(w, v)
}
