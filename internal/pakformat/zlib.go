package pakformat

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/xerrors"
)

// InflateBlock decompresses one zlib-wrapped compression block. The
// reference decoder accepts any zlib level on read (§4.1), so no level is
// configured here — klauspost/compress/zlib's reader auto-detects it from
// the stream header exactly like compress/zlib would.
func InflateBlock(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, xerrors.Errorf("zlib: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, xerrors.Errorf("zlib: %w", err)
	}
	return out, nil
}

// DeflateBlock compresses one block at the package's default compression
// level (§4.1: "emits default compression on write").
func DeflateBlock(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, xerrors.Errorf("zlib: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, xerrors.Errorf("zlib: %w", err)
	}
	return buf.Bytes(), nil
}
