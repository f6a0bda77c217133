package pakformat

import (
	"crypto/sha1"
	"hash"
	"io"
)

// Digest is a streaming SHA-1 accumulator. Go's crypto/sha1 and OpenSSL
// implement the same FIPS 180 algorithm and agree byte-for-byte on every
// input, which is the only property spec §4.1 requires ("must match
// OpenSSL byte-for-byte"); none of the retrieved examples vendor a
// third-party SHA-1, so the standard library — the canonical
// implementation every Go program reaches for — needs no justification
// beyond that.
type Digest struct {
	h hash.Hash
}

// NewDigest returns a ready-to-use streaming SHA-1 digest.
func NewDigest() *Digest {
	return &Digest{h: sha1.New()}
}

// Write feeds p into the digest.
func (d *Digest) Write(p []byte) (int, error) { return d.h.Write(p) }

// Sum20 finalizes the digest and returns the 20-byte result.
func (d *Digest) Sum20() [20]byte {
	var out [20]byte
	copy(out[:], d.h.Sum(nil))
	return out
}

// SHA1Reader hashes all of r's remaining bytes.
func SHA1Reader(r io.Reader) ([20]byte, error) {
	d := NewDigest()
	if _, err := io.Copy(d, r); err != nil {
		return [20]byte{}, err
	}
	return d.Sum20(), nil
}
