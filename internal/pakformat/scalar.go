// Package pakformat implements the codec primitives shared by every pak
// format version: little-endian scalar encoding, length-prefixed strings
// (ASCII or UTF-16, §4.1), a streaming SHA-1 digest, and a zlib adapter.
//
// Nothing in this package knows about records, indexes or footers; it only
// knows how to get fixed and variable-width values on and off the wire.
package pakformat

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// ReadU32 reads a little-endian uint32.
func ReadU32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, xerrors.Errorf("read u32: %w", err)
	}
	return v, nil
}

// ReadU64 reads a little-endian uint64.
func ReadU64(r io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, xerrors.Errorf("read u64: %w", err)
	}
	return v, nil
}

// ReadI32 reads a little-endian int32.
func ReadI32(r io.Reader) (int32, error) {
	var v int32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, xerrors.Errorf("read i32: %w", err)
	}
	return v, nil
}

// ReadI64 reads a little-endian int64.
func ReadI64(r io.Reader) (int64, error) {
	var v int64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, xerrors.Errorf("read i64: %w", err)
	}
	return v, nil
}

// ReadU8 reads a single byte.
func ReadU8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, xerrors.Errorf("read u8: %w", err)
	}
	return buf[0], nil
}

// ReadBool32 reads a little-endian uint32 and reports whether it is nonzero,
// the encoding the v≥10 index header uses for its has-index flags (footer
// and record flags are single bytes, read with ReadU8).
func ReadBool32(r io.Reader) (bool, error) {
	v, err := ReadU32(r)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// WriteU32 writes a little-endian uint32.
func WriteU32(w io.Writer, v uint32) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return xerrors.Errorf("write u32: %w", err)
	}
	return nil
}

// WriteU64 writes a little-endian uint64.
func WriteU64(w io.Writer, v uint64) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return xerrors.Errorf("write u64: %w", err)
	}
	return nil
}

// WriteI64 writes a little-endian int64.
func WriteI64(w io.Writer, v int64) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return xerrors.Errorf("write i64: %w", err)
	}
	return nil
}

// WriteBool32 writes v as a little-endian uint32, 0 or 1.
func WriteBool32(w io.Writer, v bool) error {
	var u uint32
	if v {
		u = 1
	}
	return WriteU32(w, u)
}
