package pakfile

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakformat"
)

func TestFooterRoundTrip(t *testing.T) {
	t.Parallel()

	for _, v := range []Version{1, 2, 3} {
		v := v
		t.Run(v.String(), func(t *testing.T) {
			t.Parallel()
			want := &Footer{
				Version:     v,
				IndexOffset: 12345,
				IndexSize:   678,
				IndexSHA1:   [20]byte{1, 2, 3, 4, 5},
			}
			var buf bytes.Buffer
			if err := EncodeFooter(&buf, want); err != nil {
				t.Fatalf("EncodeFooter: %v", err)
			}
			if buf.Len() != footerSize(v) {
				t.Fatalf("footer size = %d, want %d", buf.Len(), footerSize(v))
			}
			got, err := DecodeFooter(bytes.NewReader(buf.Bytes()), int64(buf.Len()), DecodeFooterOptions{})
			if err != nil {
				t.Fatalf("DecodeFooter: %v", err)
			}
			if diff := cmp.Diff(want, got, cmpopts.IgnoreUnexported(Footer{})); diff != "" {
				t.Errorf("footer round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func (v Version) String() string {
	switch v {
	case 1:
		return "v1"
	case 2:
		return "v2"
	case 3:
		return "v3"
	default:
		return "v?"
	}
}

// buildV1SinglePak builds a minimal, valid v1 archive in memory with one
// uncompressed record, matching spec §8 scenario S1.
func buildV1SinglePak(t *testing.T, filename string, content []byte) []byte {
	t.Helper()

	sum := pakformat.NewDigest()
	sum.Write(content)
	sha1 := sum.Sum20()

	zero := uint64(0)
	rec := &Record{
		Filename:         filename,
		Offset:           0,
		Size:             uint64(len(content)),
		UncompressedSize: uint64(len(content)),
		Method:           CompressionMethod{Kind: MethodNone, Name: "none"},
		SHA1:             sha1,
		Timestamp:        &zero,
	}

	var buf bytes.Buffer
	if err := EncodeRecordHeader(&buf, 1, rec); err != nil {
		t.Fatalf("EncodeRecordHeader: %v", err)
	}
	if _, err := buf.Write(content); err != nil {
		t.Fatal(err)
	}

	indexOffset := uint64(buf.Len())
	idx := &Index{MountPoint: "../../../", Records: []*Record{rec}}
	var indexBuf bytes.Buffer
	if err := EncodeIndex(&indexBuf, 1, idx); err != nil {
		t.Fatalf("EncodeIndex: %v", err)
	}
	indexBytes := indexBuf.Bytes()
	idxSum := pakformat.NewDigest()
	idxSum.Write(indexBytes)
	if _, err := buf.Write(indexBytes); err != nil {
		t.Fatal(err)
	}

	footer := &Footer{
		Version:     1,
		IndexOffset: indexOffset,
		IndexSize:   uint64(len(indexBytes)),
		IndexSHA1:   idxSum.Sum20(),
	}
	if err := EncodeFooter(&buf, footer); err != nil {
		t.Fatalf("EncodeFooter: %v", err)
	}

	return buf.Bytes()
}

func TestV1SinglePakRoundTrip(t *testing.T) {
	t.Parallel()

	content := []byte("hi\n")
	data := buildV1SinglePak(t, "a.txt", content)

	pak, err := Open(bytes.NewReader(data), int64(len(data)), OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pak.Version != 1 {
		t.Fatalf("version = %d, want 1", pak.Version)
	}
	if len(pak.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(pak.Records))
	}
	rec := pak.Records[0]
	if rec.Filename != "a.txt" {
		t.Errorf("filename = %q, want a.txt", rec.Filename)
	}
	if rec.Size != 3 || rec.UncompressedSize != 3 {
		t.Errorf("size=%d uncompressed=%d, want 3,3", rec.Size, rec.UncompressedSize)
	}
	if !rec.Method.None() {
		t.Errorf("method = %v, want none", rec.Method)
	}

	got, err := io.ReadAll(pak.PayloadReader(rec))
	if err != nil {
		t.Fatalf("PayloadReader: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("payload = %q, want %q", got, content)
	}
}

func TestOpenInvalidMagic(t *testing.T) {
	t.Parallel()

	data := buildV1SinglePak(t, "a.txt", []byte("hi\n"))
	// Flip a byte inside the footer magic field.
	corrupt := append([]byte(nil), data...)
	magicStart := len(corrupt) - footerSize(1) + 8 + 8 + 20
	corrupt[magicStart] ^= 0xFF

	_, err := Open(bytes.NewReader(corrupt), int64(len(corrupt)), OpenOptions{})
	if err == nil {
		t.Fatal("expected an error for a corrupted magic")
	}
	var magicErr *pakerr.InvalidMagic
	if !errors.As(err, &magicErr) {
		t.Errorf("error = %v, want *pakerr.InvalidMagic somewhere in the chain", err)
	}
}

// buildV4UncompressedPak hand-builds a v4 archive with one uncompressed
// record directly from pakformat primitives, since EncodeFooter/
// EncodeRecordHeader/EncodeIndex all refuse versions above
// MaxWritableVersion. It exercises the case PayloadSectionReader must get
// right: a v≥4 record with no compressed-data prefix to skip.
func buildV4UncompressedPak(t *testing.T, filename string, content []byte) []byte {
	t.Helper()

	sum := pakformat.NewDigest()
	sum.Write(content)
	sha1 := sum.Sum20()

	var buf bytes.Buffer
	if err := pakformat.WriteU64(&buf, 0); err != nil { // offset
		t.Fatal(err)
	}
	if err := pakformat.WriteU64(&buf, uint64(len(content))); err != nil { // size
		t.Fatal(err)
	}
	if err := pakformat.WriteU64(&buf, uint64(len(content))); err != nil { // uncompressed_size
		t.Fatal(err)
	}
	if err := writeByte(&buf, 0); err != nil { // method: none
		t.Fatal(err)
	}
	if _, err := buf.Write(sha1[:]); err != nil {
		t.Fatal(err)
	}
	if err := writeByte(&buf, 0); err != nil { // encrypted: false
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, 0); err != nil { // compression_block_size
		t.Fatal(err)
	}
	if _, err := buf.Write(content); err != nil {
		t.Fatal(err)
	}

	indexOffset := uint64(buf.Len())
	var indexBuf bytes.Buffer
	if err := pakformat.WriteSizedString(&indexBuf, "../../../"); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&indexBuf, 1); err != nil { // record count
		t.Fatal(err)
	}
	if err := pakformat.WriteSizedString(&indexBuf, filename); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU64(&indexBuf, 0); err != nil { // offset
		t.Fatal(err)
	}
	if err := pakformat.WriteU64(&indexBuf, uint64(len(content))); err != nil { // size
		t.Fatal(err)
	}
	if err := pakformat.WriteU64(&indexBuf, uint64(len(content))); err != nil { // uncompressed_size
		t.Fatal(err)
	}
	if err := writeByte(&indexBuf, 0); err != nil { // method: none
		t.Fatal(err)
	}
	if _, err := indexBuf.Write(sha1[:]); err != nil {
		t.Fatal(err)
	}
	if err := writeByte(&indexBuf, 0); err != nil { // encrypted: false
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&indexBuf, 0); err != nil { // compression_block_size
		t.Fatal(err)
	}
	indexBytes := indexBuf.Bytes()
	idxSum := pakformat.NewDigest()
	idxSum.Write(indexBytes)
	if _, err := buf.Write(indexBytes); err != nil {
		t.Fatal(err)
	}

	// v4 footer: index_offset, index_size, index_sha1, encrypted, magic, version.
	if err := pakformat.WriteU64(&buf, indexOffset); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU64(&buf, uint64(len(indexBytes))); err != nil {
		t.Fatal(err)
	}
	idxSHA1 := idxSum.Sum20()
	if _, err := buf.Write(idxSHA1[:]); err != nil {
		t.Fatal(err)
	}
	if err := writeByte(&buf, 0); err != nil { // encrypted: false
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, Magic); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, 4); err != nil { // version
		t.Fatal(err)
	}

	return buf.Bytes()
}

func TestV4UncompressedRecordPayloadHasNoPrefix(t *testing.T) {
	t.Parallel()

	content := []byte("v4 uncompressed payload, no prefix bytes before it\n")
	data := buildV4UncompressedPak(t, "a.txt", content)

	pak, err := Open(bytes.NewReader(data), int64(len(data)), OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pak.Version != 4 {
		t.Fatalf("version = %d, want 4", pak.Version)
	}
	if len(pak.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(pak.Records))
	}
	rec := pak.Records[0]
	if !rec.Method.None() {
		t.Fatalf("method = %v, want none", rec.Method)
	}

	got, err := io.ReadAll(pak.PayloadReader(rec))
	if err != nil {
		t.Fatalf("PayloadReader: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("payload = %q, want %q (prefix skip must not apply to uncompressed v4 records)", got, content)
	}
}

func TestEncodedRecordRoundTrip(t *testing.T) {
	t.Parallel()

	rec := &Record{
		Offset:               1000,
		Size:                  300,
		UncompressedSize:      1000,
		Method:                CompressionMethod{Kind: MethodZlib, Index: 1, Name: "Zlib"},
		CompressionBlockSize:  128,
		Blocks: []CompressionBlock{
			{Start: 1004, End: 1132}, // non-terminal: length == CompressionBlockSize
			{Start: 1132, End: 1304}, // terminal: remainder
		},
	}

	var buf bytes.Buffer
	if err := encodeEncodedRecord(&buf, rec); err != nil {
		t.Fatalf("encodeEncodedRecord: %v", err)
	}

	got, err := decodeEncodedRecord(bytes.NewReader(buf.Bytes()), Standard, []string{"Zlib"})
	if err != nil {
		t.Fatalf("decodeEncodedRecord: %v", err)
	}

	if got.Offset != rec.Offset || got.UncompressedSize != rec.UncompressedSize || got.Size != rec.Size {
		t.Errorf("decoded = %+v, want offset/size/uncompressed matching %+v", got, rec)
	}
	if got.CompressionBlockSize != rec.CompressionBlockSize {
		t.Errorf("block size = %d, want %d", got.CompressionBlockSize, rec.CompressionBlockSize)
	}
	if len(got.Blocks) != len(rec.Blocks) {
		t.Fatalf("blocks = %d, want %d", len(got.Blocks), len(rec.Blocks))
	}
}

// TestV7RelativeCompressionBlockOffsets hand-builds a v7 archive with one
// two-block compressed record to exercise scenario S3: v≥5 on-disk block
// offsets are relative to the record's own Offset field, and normalizeBlocks
// must resolve them to the actual absolute file positions the blocks sit at.
func TestV7RelativeCompressionBlockOffsets(t *testing.T) {
	t.Parallel()

	raw1 := bytes.Repeat([]byte("alpha"), 50)
	raw2 := bytes.Repeat([]byte("beta"), 50)
	compressed1, err := pakformat.DeflateBlock(raw1)
	if err != nil {
		t.Fatalf("DeflateBlock(raw1): %v", err)
	}
	compressed2, err := pakformat.DeflateBlock(raw2)
	if err != nil {
		t.Fatalf("DeflateBlock(raw2): %v", err)
	}

	sum := pakformat.NewDigest()
	sum.Write(compressed1)
	sum.Write(compressed2)
	sha1 := sum.Sum20()

	const prefixLen = 4 // standard variant's v≥4 unknown data-record prefix

	var buf bytes.Buffer
	// Record header (recordHeaderSize(7, false, Zlib, 2) == 86 bytes).
	if err := pakformat.WriteU64(&buf, 0); err != nil { // offset
		t.Fatal(err)
	}
	size := uint64(len(compressed1) + len(compressed2))
	if err := pakformat.WriteU64(&buf, size); err != nil {
		t.Fatal(err)
	}
	uncompressedSize := uint64(len(raw1) + len(raw2))
	if err := pakformat.WriteU64(&buf, uncompressedSize); err != nil {
		t.Fatal(err)
	}
	if err := writeByte(&buf, 1); err != nil { // method: Zlib, fixed-slot byte 1 (v<8)
		t.Fatal(err)
	}
	if _, err := buf.Write(sha1[:]); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, 2); err != nil { // block count
		t.Fatal(err)
	}
	// On-disk offsets are relative to the record's own Offset (spec §9 S3).
	relBlock1Start, relBlock1End := uint64(0), uint64(len(compressed1))
	relBlock2Start, relBlock2End := relBlock1End, relBlock1End+uint64(len(compressed2))
	for _, off := range []uint64{relBlock1Start, relBlock1End, relBlock2Start, relBlock2End} {
		if err := pakformat.WriteU64(&buf, off); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeByte(&buf, 0); err != nil { // encrypted: false
		t.Fatal(err)
	}
	blockSize := uint32(len(compressed1)) // matches validateRecord's non-terminal-block-length invariant
	if err := pakformat.WriteU32(&buf, blockSize); err != nil {
		t.Fatal(err)
	}

	headerSize := buf.Len()
	if headerSize != 86 {
		t.Fatalf("record header size = %d, want 86", headerSize)
	}

	if _, err := buf.Write(make([]byte, prefixLen)); err != nil {
		t.Fatal(err)
	}
	if _, err := buf.Write(compressed1); err != nil {
		t.Fatal(err)
	}
	if _, err := buf.Write(compressed2); err != nil {
		t.Fatal(err)
	}

	indexOffset := uint64(buf.Len())
	var indexBuf bytes.Buffer
	if err := pakformat.WriteSizedString(&indexBuf, "../../../"); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&indexBuf, 1); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteSizedString(&indexBuf, "compressed.bin"); err != nil {
		t.Fatal(err)
	}
	if _, err := indexBuf.Write(buf.Bytes()[:headerSize]); err != nil {
		t.Fatal(err)
	}
	indexBytes := indexBuf.Bytes()
	idxSum := pakformat.NewDigest()
	idxSum.Write(indexBytes)
	idxSHA1 := idxSum.Sum20()
	if _, err := buf.Write(indexBytes); err != nil {
		t.Fatal(err)
	}

	// v7 footer: index_offset, index_size, index_sha1, encrypted, magic,
	// version, encryption_key_guid, then 4 bytes of unrecovered padding
	// (footerSize(7) == 65).
	if err := pakformat.WriteU64(&buf, indexOffset); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU64(&buf, uint64(len(indexBytes))); err != nil {
		t.Fatal(err)
	}
	if _, err := buf.Write(idxSHA1[:]); err != nil {
		t.Fatal(err)
	}
	if err := writeByte(&buf, 0); err != nil { // encrypted: false
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, Magic); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, 7); err != nil { // version
		t.Fatal(err)
	}
	if _, err := buf.Write(make([]byte, 16)); err != nil { // encryption key guid
		t.Fatal(err)
	}
	if _, err := buf.Write(make([]byte, 4)); err != nil { // reserved pad
		t.Fatal(err)
	}

	data := buf.Bytes()
	pak, err := Open(bytes.NewReader(data), int64(len(data)), OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pak.Version != 7 {
		t.Fatalf("version = %d, want 7", pak.Version)
	}
	if len(pak.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(pak.Records))
	}
	rec := pak.Records[0]
	if len(rec.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(rec.Blocks))
	}

	// The relative offsets must have been resolved to absolute file
	// positions: the record header plus its 4-byte unknown prefix.
	base := uint64(headerSize + prefixLen)
	want := []CompressionBlock{
		{Start: base + relBlock1Start, End: base + relBlock1End},
		{Start: base + relBlock2Start, End: base + relBlock2End},
	}
	if diff := cmp.Diff(want, rec.Blocks); diff != "" {
		t.Errorf("resolved block offsets mismatch (-want +got):\n%s", diff)
	}

	for i, want := range [][]byte{raw1, raw2} {
		got, err := io.ReadAll(pak.BlockReader(rec.Blocks[i]))
		if err != nil {
			t.Fatalf("BlockReader(%d): %v", i, err)
		}
		plain, err := pakformat.InflateBlock(got)
		if err != nil {
			t.Fatalf("InflateBlock(%d): %v", i, err)
		}
		if !bytes.Equal(plain, want) {
			t.Errorf("block %d plaintext mismatch", i)
		}
	}
}

func TestEncodedRecordSingleBlockOmitsSizeList(t *testing.T) {
	t.Parallel()

	rec := &Record{
		Offset:               0,
		Size:                  50,
		UncompressedSize:      50,
		Method:                CompressionMethod{Kind: MethodZlib, Index: 1, Name: "Zlib"},
		CompressionBlockSize:  65536,
		Blocks:                []CompressionBlock{{Start: 4, End: 54}},
	}
	var buf bytes.Buffer
	if err := encodeEncodedRecord(&buf, rec); err != nil {
		t.Fatalf("encodeEncodedRecord: %v", err)
	}
	// header(4) + offset(4, fits32) + uncompressed(4) + size(4) = 16 bytes,
	// no per-block size list because block_count==1 && !encrypted (spec §3).
	if buf.Len() != 16 {
		t.Errorf("encoded length = %d, want 16 (no block size list)", buf.Len())
	}
}
