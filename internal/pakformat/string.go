package pakformat

import (
	"io"
	"unicode/utf16"

	"golang.org/x/xerrors"
)

// ReadSizedString reads a length-prefixed string as used for the mount
// point and every record filename (§4.1): a signed 32-bit length L. If
// L >= 0, L bytes of ASCII/ISO-8859-1 follow, including a trailing NUL. If
// L < 0, 2*|L| bytes of UTF-16LE follow, including a trailing 16-bit NUL.
func ReadSizedString(r io.Reader) (string, error) {
	length, err := ReadI32(r)
	if err != nil {
		return "", xerrors.Errorf("sized string length: %w", err)
	}
	if length == 0 {
		return "", nil
	}
	if length > 0 {
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", xerrors.Errorf("sized string (ascii, len=%d): %w", length, err)
		}
		return trimNUL(buf), nil
	}

	n := -int(length)
	buf := make([]byte, 2*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", xerrors.Errorf("sized string (utf16, len=%d): %w", n, err)
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
	}
	// Drop the trailing 16-bit NUL terminator before decoding.
	if len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units)), nil
}

func trimNUL(b []byte) string {
	return TrimNUL(b)
}

// TrimNUL drops a single trailing NUL byte, if present, and returns the rest
// as a string.
func TrimNUL(b []byte) string {
	if len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// TrimTrailingNULs drops every trailing NUL byte, for fixed-width,
// zero-padded fields such as the footer's compression method name slots
// (spec §6).
func TrimTrailingNULs(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

// WriteSizedString always writes the ASCII form with a terminating NUL, as
// spec §4.1 requires of writers regardless of how the value was read.
func WriteSizedString(w io.Writer, s string) error {
	b := append([]byte(s), 0)
	if err := WriteI32(w, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	if err != nil {
		return xerrors.Errorf("write sized string: %w", err)
	}
	return nil
}

// WriteI32 writes a little-endian int32.
func WriteI32(w io.Writer, v int32) error {
	return WriteU32(w, uint32(v))
}
