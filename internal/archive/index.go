// Package archive implements the clip-ingestion pipeline: the marker
// index that deduplicates downloads, the date-partitioned archive
// placement, the bounded "latest" mirror, and the orchestrator that
// drives a camera cloud source through all of it.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// IndexDirName is the marker directory under the media root.
const IndexDirName = ".idx"

// Index is a flat directory of marker files, one per clip filename ever
// ingested. A marker exists iff the clip has been downloaded and
// relocated to the archive at least once; its absence is the trigger to
// (re)download. The directory doubles as the staging area for in-flight
// downloads, so a listing diff before and after a fetch batch yields
// exactly the new filenames.
type Index struct {
	dir string
}

func NewIndex(mediaRoot string) (*Index, error) {
	dir := filepath.Join(mediaRoot, IndexDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &FilesystemError{Op: "create index dir", Path: dir, Err: err}
	}
	return &Index{dir: dir}, nil
}

func (ix *Index) Dir() string {
	return ix.dir
}

// StagingPath returns where a clip with the given filename is downloaded
// before placement.
func (ix *Index) StagingPath(filename string) string {
	return filepath.Join(ix.dir, filename)
}

// Exists reports whether the filename is present in the index, either as
// a marker or as a staged download.
func (ix *Index) Exists(filename string) bool {
	_, err := os.Lstat(filepath.Join(ix.dir, filename))
	return err == nil
}

// Mark records the filename as ingested with a zero-byte marker.
// Marking an already-marked filename is a no-op.
func (ix *Index) Mark(filename string) error {
	path := filepath.Join(ix.dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &FilesystemError{Op: "write marker", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &FilesystemError{Op: "write marker", Path: path, Err: err}
	}
	return nil
}

// List returns the set of filenames currently in the index.
func (ix *Index) List() (map[string]bool, error) {
	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return nil, &FilesystemError{Op: "list index", Path: ix.dir, Err: err}
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names[e.Name()] = true
	}
	return names, nil
}

// FilesystemError indicates a local directory or file operation failed.
// It is fatal for the clip concerned; the placer never writes a marker
// after one, so the clip is retried on the next invocation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
