package archive

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// LatestDirName is the flat mirror directory under the media root.
const LatestDirName = "latest"

// RetentionPolicy bounds the latest view. A positive MaxAgeHours selects
// age-based pruning; otherwise the MaxCount most recent entries are kept.
type RetentionPolicy struct {
	MaxAgeHours int
	MaxCount    int
}

func (p RetentionPolicy) AgeBased() bool {
	return p.MaxAgeHours > 0
}

// LatestView maintains the flat mirror of recently archived clips. The
// entries are full copies rather than links because some media servers
// refuse to follow symlinks out of their library root.
type LatestView struct {
	dir string
}

func NewLatestView(mediaRoot string) (*LatestView, error) {
	dir := filepath.Join(mediaRoot, LatestDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &FilesystemError{Op: "create latest dir", Path: dir, Err: err}
	}
	return &LatestView{dir: dir}, nil
}

func (v *LatestView) Dir() string {
	return v.dir
}

// Mirror copies the archived file into the latest directory under its
// basename, overwriting any previous entry. The archive entry's
// modification time is carried over so pruning decisions track capture
// time rather than copy time.
func (v *LatestView) Mirror(archivePath string) error {
	src, err := os.Open(archivePath)
	if err != nil {
		return &FilesystemError{Op: "open archive entry", Path: archivePath, Err: err}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return &FilesystemError{Op: "stat archive entry", Path: archivePath, Err: err}
	}

	dest := filepath.Join(v.dir, filepath.Base(archivePath))
	dst, err := os.Create(dest)
	if err != nil {
		return &FilesystemError{Op: "create latest entry", Path: dest, Err: err}
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dest)
		return &FilesystemError{Op: "copy latest entry", Path: dest, Err: err}
	}
	if err := dst.Close(); err != nil {
		return &FilesystemError{Op: "close latest entry", Path: dest, Err: err}
	}

	if err := os.Chtimes(dest, info.ModTime(), info.ModTime()); err != nil {
		return &FilesystemError{Op: "set latest entry mtime", Path: dest, Err: err}
	}
	return nil
}

// Prune applies the retention policy to the latest directory and returns
// the removed filenames. It runs once per ingestion, after all mirroring
// for the invocation has completed. The policy is authoritative: a batch
// larger than a count-mode bound loses its oldest entries immediately.
func (v *LatestView) Prune(policy RetentionPolicy, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, &FilesystemError{Op: "list latest", Path: v.dir, Err: err}
	}

	type entry struct {
		name  string
		mtime time.Time
	}
	files := make([]entry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, &FilesystemError{Op: "stat latest entry", Path: filepath.Join(v.dir, e.Name()), Err: err}
		}
		files = append(files, entry{name: e.Name(), mtime: info.ModTime()})
	}

	// Most recent first.
	sort.Slice(files, func(i, j int) bool {
		return files[i].mtime.After(files[j].mtime)
	})

	var doomed []entry
	if policy.AgeBased() {
		cutoff := now.Add(-time.Duration(policy.MaxAgeHours) * time.Hour)
		for _, f := range files {
			if f.mtime.Before(cutoff) {
				doomed = append(doomed, f)
			}
		}
	} else if len(files) > policy.MaxCount {
		doomed = files[policy.MaxCount:]
	}

	removed := make([]string, 0, len(doomed))
	for _, f := range doomed {
		path := filepath.Join(v.dir, f.name)
		if err := os.Remove(path); err != nil {
			return removed, &FilesystemError{Op: "prune latest entry", Path: path, Err: err}
		}
		removed = append(removed, f.name)
	}
	return removed, nil
}
