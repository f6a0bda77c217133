package pakfile

import (
	"io"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakformat"
	"golang.org/x/xerrors"
)

// Magic is the little-endian footer magic every version shares (spec §4.4).
const Magic uint32 = 0xE1126F5A

// compressionMethodSlotSize and compressionMethodSlotCount describe the
// v≥8 method name table. Only 4 slots are stored on disk; index 0 is always
// the implicit "None" entry, giving the "up to 5 names" spec §6 describes.
const (
	compressionMethodSlotSize  = 32
	compressionMethodSlotCount = 4
)

// Footer is the fixed-size trailer every pak archive ends with (spec §4.4,
// §6). Fields that do not exist below a given version are left at their
// zero value. Growing the footer from one version to the next sometimes
// leaves bytes whose purpose this codec never recovered (original_source/
// held no files for this spec); those are consumed as reservedPad and
// never surfaced.
type Footer struct {
	Version            Version
	IndexOffset        uint64
	IndexSize          uint64
	IndexSHA1          [20]byte
	Encrypted          bool     // v4+
	EncryptionKeyGUID  [16]byte // v7+
	FrozenIndex        bool     // v9+
	CompressionMethods []string // v8+, resolved including the implicit "none" at index 0
	reservedPad        int
}

// DecodeFooterOptions controls how ambiguous or corrupt footers are
// tolerated, per spec §6's --ignore-magic and --force-version escape
// hatches.
type DecodeFooterOptions struct {
	IgnoreMagic  bool
	ForceVersion Version // 0 means "detect"
}

// DecodeFooter locates and parses the footer at the end of a pak archive.
// Versions are tried from MaxVersion down to MinVersion (spec §4.4) unless
// opts.ForceVersion pins one. fileSize is the total archive size, used to
// seek to each candidate footer size from the end.
func DecodeFooter(ra io.ReaderAt, fileSize int64, opts DecodeFooterOptions) (*Footer, error) {
	if opts.ForceVersion != 0 {
		return tryDecodeFooterAt(ra, fileSize, opts.ForceVersion, opts)
	}

	var lastErr error
	for v := MaxVersion; v >= MinVersion; v-- {
		f, err := tryDecodeFooterAt(ra, fileSize, v, opts)
		if err == nil {
			return f, nil
		}
		lastErr = err
	}
	return nil, xerrors.Errorf("no recognized footer found: %w", lastErr)
}

func tryDecodeFooterAt(ra io.ReaderAt, fileSize int64, v Version, opts DecodeFooterOptions) (*Footer, error) {
	size := footerSize(v)
	if size == 0 || int64(size) > fileSize {
		return nil, &pakerr.UnsupportedVersion{Version: int(v)}
	}
	sr := io.NewSectionReader(ra, fileSize-int64(size), int64(size))
	return decodeFooter(sr, v, opts)
}

func decodeFooter(r io.Reader, v Version, opts DecodeFooterOptions) (*Footer, error) {
	f := &Footer{Version: v}
	known := 0

	indexOffset, err := pakformat.ReadU64(r)
	if err != nil {
		return nil, xerrors.Errorf("footer index_offset: %w", err)
	}
	indexSize, err := pakformat.ReadU64(r)
	if err != nil {
		return nil, xerrors.Errorf("footer index_size: %w", err)
	}
	var indexSHA1 [20]byte
	if _, err := io.ReadFull(r, indexSHA1[:]); err != nil {
		return nil, xerrors.Errorf("footer index_sha1: %w", err)
	}
	f.IndexOffset, f.IndexSize, f.IndexSHA1 = indexOffset, indexSize, indexSHA1
	known += 8 + 8 + 20

	if v >= 4 {
		encryptedByte, err := pakformat.ReadU8(r)
		if err != nil {
			return nil, xerrors.Errorf("footer encrypted flag: %w", err)
		}
		f.Encrypted = encryptedByte != 0
		known++
	}

	magic, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("footer magic: %w", err)
	}
	if magic != Magic && !opts.IgnoreMagic {
		return nil, &pakerr.InvalidMagic{}
	}

	version, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("footer version: %w", err)
	}
	if Version(version) != v && !opts.IgnoreMagic && opts.ForceVersion == 0 {
		return nil, &pakerr.UnsupportedVersion{Version: int(version)}
	}
	known += 4 + 4

	if v >= 7 {
		if _, err := io.ReadFull(r, f.EncryptionKeyGUID[:]); err != nil {
			return nil, xerrors.Errorf("footer encryption key guid: %w", err)
		}
		known += 16
	}

	if v >= 9 {
		frozenByte, err := pakformat.ReadU8(r)
		if err != nil {
			return nil, xerrors.Errorf("footer frozen index flag: %w", err)
		}
		f.FrozenIndex = frozenByte != 0
		known++
	}

	if v >= 8 {
		methods, err := decodeCompressionMethodTable(r)
		if err != nil {
			return nil, err
		}
		f.CompressionMethods = methods
		known += compressionMethodSlotSize * compressionMethodSlotCount
	}

	f.reservedPad = footerSize(v) - known
	if f.reservedPad < 0 {
		return nil, xerrors.Errorf("footer version %d: known fields (%d bytes) exceed footer size (%d bytes)", v, known, footerSize(v))
	}
	if f.reservedPad > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(f.reservedPad)); err != nil {
			return nil, xerrors.Errorf("footer reserved padding: %w", err)
		}
	}

	return f, nil
}

// decodeCompressionMethodTable reads the 4 fixed-width (32-byte, NUL-padded)
// compression method name slots the v≥8 footer carries, and prepends the
// implicit "none" at index 0 (spec §6).
func decodeCompressionMethodTable(r io.Reader) ([]string, error) {
	methods := make([]string, 0, compressionMethodSlotCount+1)
	methods = append(methods, "none")
	for i := 0; i < compressionMethodSlotCount; i++ {
		buf := make([]byte, compressionMethodSlotSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, xerrors.Errorf("compression method slot %d: %w", i, err)
		}
		name := pakformat.TrimTrailingNULs(buf)
		if name != "" {
			methods = append(methods, name)
		}
	}
	return methods, nil
}

// EncodeFooter writes a v1-3 footer, the only versions this codec writes
// (spec §1 Non-goals). Versions ≤3 predate the encrypted flag, key GUID,
// frozen-index flag and method table, so none of those fields are emitted.
func EncodeFooter(w io.Writer, f *Footer) error {
	if f.Version > MaxWritableVersion {
		return &pakerr.UnsupportedVersion{Version: int(f.Version)}
	}
	if err := pakformat.WriteU64(w, f.IndexOffset); err != nil {
		return err
	}
	if err := pakformat.WriteU64(w, f.IndexSize); err != nil {
		return err
	}
	if _, err := w.Write(f.IndexSHA1[:]); err != nil {
		return xerrors.Errorf("write index sha1: %w", err)
	}
	if err := pakformat.WriteU32(w, Magic); err != nil {
		return err
	}
	return pakformat.WriteU32(w, uint32(f.Version))
}
