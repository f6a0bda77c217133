package packengine

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/u4pak/u4pak/internal/pakerr"
	"golang.org/x/xerrors"
)

// fileJob is one file scheduled to be packed, with its final archive path
// already decided.
type fileJob struct {
	LocalPath   string
	ArchiveName string
	Compress    bool
}

// Walk expands each source spec into a flat, deterministically ordered list
// of files: a single source yields one job, a directory source yields one
// job per regular file beneath it, sorted by archive path so pack output
// does not depend on directory-entry order (spec §4.7, mirroring how list
// --sort defaults to a stable order — SPEC_FULL.md supplemented features).
func Walk(sources []SourceSpec) ([]fileJob, error) {
	var jobs []fileJob
	for _, src := range sources {
		info, err := os.Stat(src.LocalPath)
		if err != nil {
			return nil, &pakerr.InvalidSource{Spec: src.LocalPath, Reason: err.Error()}
		}
		if !info.IsDir() {
			name := src.ArchiveName
			if name == "" {
				name = filepath.ToSlash(filepath.Base(src.LocalPath))
			}
			jobs = append(jobs, fileJob{LocalPath: src.LocalPath, ArchiveName: name, Compress: src.Compress})
			continue
		}

		base := src.ArchiveName
		var dirJobs []fileJob
		err = filepath.Walk(src.LocalPath, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(src.LocalPath, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			name := rel
			if base != "" {
				name = base + "/" + rel
			}
			dirJobs = append(dirJobs, fileJob{LocalPath: p, ArchiveName: name, Compress: src.Compress})
			return nil
		})
		if err != nil {
			return nil, xerrors.Errorf("walking %s: %w", src.LocalPath, err)
		}
		sort.Slice(dirJobs, func(i, j int) bool { return dirJobs[i].ArchiveName < dirJobs[j].ArchiveName })
		jobs = append(jobs, dirJobs...)
	}
	return jobs, nil
}
