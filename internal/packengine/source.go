package packengine

import (
	"strings"

	"github.com/u4pak/u4pak/internal/pakerr"
)

// SourceSpec is one parsed pack-source argument (spec §4.7, SPEC_FULL.md
// domain stack): an optional comma-separated option prefix, a colon, then a
// local filesystem path — e.g. "zlib:assets/textures" or
// "zlib,rename=Data/readme.txt:README.md".
type SourceSpec struct {
	LocalPath   string
	ArchiveName string // empty means "derive from LocalPath during the walk"
	Compress    bool
}

// ParseSource parses one pack-source CLI argument.
func ParseSource(raw string) (SourceSpec, error) {
	if raw == "" {
		return SourceSpec{}, &pakerr.InvalidSource{Spec: raw, Reason: "empty source"}
	}

	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return SourceSpec{LocalPath: raw}, nil
	}

	optsPart, path := raw[:colon], raw[colon+1:]
	if path == "" {
		return SourceSpec{}, &pakerr.InvalidSource{Spec: raw, Reason: "missing path after ':'"}
	}

	spec := SourceSpec{LocalPath: path}
	for _, opt := range strings.Split(optsPart, ",") {
		if opt == "" {
			continue
		}
		switch {
		case opt == "zlib":
			spec.Compress = true
		case strings.HasPrefix(opt, "rename="):
			name := strings.TrimPrefix(opt, "rename=")
			if name == "" {
				return SourceSpec{}, &pakerr.InvalidSource{Spec: raw, Reason: "empty rename target"}
			}
			spec.ArchiveName = name
		default:
			return SourceSpec{}, &pakerr.InvalidSource{Spec: raw, Reason: "unknown option " + opt}
		}
	}
	return spec, nil
}
