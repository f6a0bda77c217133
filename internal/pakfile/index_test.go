package pakfile

import (
	"bytes"
	"testing"

	"github.com/u4pak/u4pak/internal/pakformat"
)

// encodeNoneEncodedRecord builds the minimal v≥10 EncodedRecord byte form
// for an uncompressed entry: a header word selecting method index 0 (none),
// zero blocks, and 32-bit offset/uncompressed_size fields.
func encodeNoneEncodedRecord(t *testing.T, offset, uncompressedSize uint32) []byte {
	t.Helper()

	const sizeFits32Bit = 1 << 29
	const uncompressedSizeFits32Bit = 1 << 30
	const offsetFits32Bit = 1 << 31
	header := uint32(sizeFits32Bit | uncompressedSizeFits32Bit | offsetFits32Bit)

	var buf bytes.Buffer
	if err := pakformat.WriteU32(&buf, header); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, offset); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&buf, uncompressedSize); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestDecodeFullDirectoryIndexWorkedExample reproduces spec §8 scenario S4's
// literal example, {"/assets/": {"x.png": 0, "y.png": 37}}: one directory
// with two files whose EncodedRecords sit at encoded-entries-blob offsets 0
// and 37.
func TestDecodeFullDirectoryIndexWorkedExample(t *testing.T) {
	t.Parallel()

	xPng := encodeNoneEncodedRecord(t, 1000, 111)
	if len(xPng) != 12 {
		t.Fatalf("x.png encoded record = %d bytes, want 12", len(xPng))
	}
	yPng := encodeNoneEncodedRecord(t, 2000, 222)

	var entries bytes.Buffer
	entries.Write(xPng)
	entries.Write(make([]byte, 37-len(xPng))) // pad so y.png lands at offset 37
	if entries.Len() != 37 {
		t.Fatalf("padding arithmetic wrong: entries.Len() = %d, want 37", entries.Len())
	}
	entries.Write(yPng)

	var fdi bytes.Buffer
	if err := pakformat.WriteU32(&fdi, 1); err != nil { // one directory
		t.Fatal(err)
	}
	if err := pakformat.WriteSizedString(&fdi, "/assets/"); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&fdi, 2); err != nil { // two files
		t.Fatal(err)
	}
	if err := pakformat.WriteSizedString(&fdi, "x.png"); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&fdi, 0); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteSizedString(&fdi, "y.png"); err != nil {
		t.Fatal(err)
	}
	if err := pakformat.WriteU32(&fdi, 37); err != nil {
		t.Fatal(err)
	}

	records, err := decodeFullDirectoryIndex(fdi.Bytes(), entries.Bytes(), Standard, nil)
	if err != nil {
		t.Fatalf("decodeFullDirectoryIndex: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	byName := make(map[string]*Record, len(records))
	for _, rec := range records {
		byName[rec.Filename] = rec
	}

	x, ok := byName["assets/x.png"]
	if !ok {
		t.Fatalf("no record named assets/x.png, got %v", byName)
	}
	if x.Offset != 1000 || x.UncompressedSize != 111 {
		t.Errorf("x.png = %+v, want offset=1000 uncompressed_size=111", x)
	}
	if !x.Method.None() {
		t.Errorf("x.png method = %v, want none", x.Method)
	}

	y, ok := byName["assets/y.png"]
	if !ok {
		t.Fatalf("no record named assets/y.png, got %v", byName)
	}
	if y.Offset != 2000 || y.UncompressedSize != 222 {
		t.Errorf("y.png = %+v, want offset=2000 uncompressed_size=222", y)
	}
}
