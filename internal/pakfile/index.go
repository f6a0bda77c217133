package pakfile

import (
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/u4pak/u4pak/internal/pakerr"
	"github.com/u4pak/u4pak/internal/pakformat"
	"golang.org/x/xerrors"
)

// Index is the decoded set of records an archive holds, in on-disk order
// (spec §3, §4.3). Record order is preserved because list/check/unpack
// report in the order the index declares them, not sorted order, unless the
// caller explicitly asks for a different sort (spec §6 --sort).
type Index struct {
	MountPoint   string
	PathHashSeed uint64 // v≥10, kept verbatim (spec §9 Open Questions)
	Records      []*Record
}

// decodeLegacyIndex reads the flat index format used by every version below
// 10: a mount point string, a record count, then that many (filename,
// record header) pairs (spec §4.3).
func decodeLegacyIndex(r io.Reader, version Version, variant Variant, methods []string) (*Index, error) {
	mountPoint, err := pakformat.ReadSizedString(r)
	if err != nil {
		return nil, xerrors.Errorf("index mount point: %w", err)
	}
	count, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("index record count: %w", err)
	}

	records := make([]*Record, count)
	for i := range records {
		filename, err := pakformat.ReadSizedString(r)
		if err != nil {
			return nil, xerrors.Errorf("index entry %d filename: %w", i, err)
		}
		rec, err := decodeRecordHeader(r, version, variant, methods)
		if err != nil {
			return nil, xerrors.Errorf("index entry %d (%s): %w", i, filename, err)
		}
		rec.Filename = filename
		records[i] = rec
	}

	return &Index{MountPoint: mountPoint, Records: records}, nil
}

// encodeLegacyIndex writes the flat index, used only for the write-capable
// versions 1-3 (spec §1 Non-goals: no write support for v≥4).
func encodeLegacyIndex(w io.Writer, version Version, idx *Index) error {
	if version > MaxWritableVersion {
		return &pakerr.UnsupportedVersion{Version: int(version)}
	}
	if err := pakformat.WriteSizedString(w, idx.MountPoint); err != nil {
		return xerrors.Errorf("write mount point: %w", err)
	}
	if err := pakformat.WriteU32(w, uint32(len(idx.Records))); err != nil {
		return xerrors.Errorf("write record count: %w", err)
	}
	for i, rec := range idx.Records {
		if err := pakformat.WriteSizedString(w, rec.Filename); err != nil {
			return xerrors.Errorf("write entry %d filename: %w", i, err)
		}
		if err := encodeRecordHeader(w, version, rec); err != nil {
			return xerrors.Errorf("write entry %d (%s): %w", i, rec.Filename, err)
		}
	}
	return nil
}

// EncodeIndex is the exported form of encodeLegacyIndex, for the pack
// engine.
func EncodeIndex(w io.Writer, version Version, idx *Index) error {
	return encodeLegacyIndex(w, version, idx)
}

// modernIndexHeader is the primary index's sequential prefix for v≥10
// archives (spec §4.3): mount point, an entry count that is read but not
// checked against the decoded records, the path hash seed, then the optional path-hash-index and
// full-directory-index pointers (each an offset/size/sha1 triple into a
// separate index section of the file), followed by the length-prefixed
// blob of concatenated EncodedRecords and a trailing legacy count that is
// normally zero.
type modernIndexHeader struct {
	MountPoint   string
	EntryCount   uint32
	PathHashSeed uint64

	HasPathHashIndex     bool
	PathHashIndexOffset  uint64
	PathHashIndexSize    uint64
	PathHashIndexSHA1    [20]byte

	HasFullDirectoryIndex    bool
	FullDirectoryIndexOffset uint64
	FullDirectoryIndexSize   uint64
	FullDirectoryIndexSHA1   [20]byte

	EncodedEntries  []byte
	LegacyCount     uint32
}

func decodeModernIndexHeader(r io.Reader) (*modernIndexHeader, error) {
	h := &modernIndexHeader{}

	mountPoint, err := pakformat.ReadSizedString(r)
	if err != nil {
		return nil, xerrors.Errorf("index mount point: %w", err)
	}
	h.MountPoint = mountPoint

	entryCount, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("index entry count: %w", err)
	}
	h.EntryCount = entryCount

	seed, err := pakformat.ReadU64(r)
	if err != nil {
		return nil, xerrors.Errorf("index path hash seed: %w", err)
	}
	h.PathHashSeed = seed

	hasPathHash, err := pakformat.ReadBool32(r)
	if err != nil {
		return nil, xerrors.Errorf("index has-path-hash-index flag: %w", err)
	}
	h.HasPathHashIndex = hasPathHash
	if hasPathHash {
		if h.PathHashIndexOffset, h.PathHashIndexSize, h.PathHashIndexSHA1, err = readIndexPointer(r); err != nil {
			return nil, xerrors.Errorf("path hash index pointer: %w", err)
		}
	}

	hasFDI, err := pakformat.ReadBool32(r)
	if err != nil {
		return nil, xerrors.Errorf("index has-full-directory-index flag: %w", err)
	}
	h.HasFullDirectoryIndex = hasFDI
	if hasFDI {
		if h.FullDirectoryIndexOffset, h.FullDirectoryIndexSize, h.FullDirectoryIndexSHA1, err = readIndexPointer(r); err != nil {
			return nil, xerrors.Errorf("full directory index pointer: %w", err)
		}
	}

	blobSize, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("index encoded entries size: %w", err)
	}
	blob := make([]byte, blobSize)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, xerrors.Errorf("index encoded entries: %w", err)
	}
	h.EncodedEntries = blob

	legacyCount, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("index trailing legacy count: %w", err)
	}
	h.LegacyCount = legacyCount

	return h, nil
}

func readIndexPointer(r io.Reader) (offset, size uint64, sha1 [20]byte, err error) {
	if offset, err = pakformat.ReadU64(r); err != nil {
		return 0, 0, sha1, err
	}
	if size, err = pakformat.ReadU64(r); err != nil {
		return 0, 0, sha1, err
	}
	if _, err = io.ReadFull(r, sha1[:]); err != nil {
		return 0, 0, sha1, err
	}
	return offset, size, sha1, nil
}

// decodeFullDirectoryIndex reads the v≥10 directory tree (a nested
// dir -> filename -> offset-into-encoded-blob map) from fdiBytes, resolving
// each entry against encodedEntries, and flattens the tree into Index
// records with path-joined filenames (spec §4.3, scenario S4).
func decodeFullDirectoryIndex(fdiBytes, encodedEntries []byte, variant Variant, methods []string) ([]*Record, error) {
	r := bytes.NewReader(fdiBytes)

	dirCount, err := pakformat.ReadU32(r)
	if err != nil {
		return nil, xerrors.Errorf("directory index count: %w", err)
	}

	var records []*Record
	for d := uint32(0); d < dirCount; d++ {
		dirName, err := pakformat.ReadSizedString(r)
		if err != nil {
			return nil, xerrors.Errorf("directory %d name: %w", d, err)
		}
		fileCount, err := pakformat.ReadU32(r)
		if err != nil {
			return nil, xerrors.Errorf("directory %d file count: %w", d, err)
		}
		for f := uint32(0); f < fileCount; f++ {
			baseName, err := pakformat.ReadSizedString(r)
			if err != nil {
				return nil, xerrors.Errorf("directory %d entry %d name: %w", d, f, err)
			}
			entryOffset, err := pakformat.ReadU32(r)
			if err != nil {
				return nil, xerrors.Errorf("directory %d entry %d offset: %w", d, f, err)
			}
			if uint64(entryOffset) >= uint64(len(encodedEntries)) {
				return nil, &pakerr.InvalidRecord{Path: joinPakPath(dirName, baseName), Reason: "encoded record offset out of range"}
			}
			rec, err := decodeEncodedRecord(bytes.NewReader(encodedEntries[entryOffset:]), variant, methods)
			if err != nil {
				return nil, xerrors.Errorf("directory %d entry %d (%s): %w", d, f, baseName, err)
			}
			rec.Filename = joinPakPath(dirName, baseName)
			records = append(records, rec)
		}
	}

	return records, nil
}

// joinPakPath joins a full-directory-index directory name ("/", "a/b/") and
// basename, stripping the NUL terminator already handled by ReadSizedString
// and the leading "/" from the directory component (spec §4.3).
func joinPakPath(dir, base string) string {
	dir = strings.TrimPrefix(dir, "/")
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return base
	}
	return path.Join(dir, base)
}
