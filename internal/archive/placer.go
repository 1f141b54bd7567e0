package archive

import (
	"fmt"
	"os"
	"path/filepath"
)

// renameFunc is swappable so tests can simulate rename failures such as
// cross-device moves without needing two filesystems.
var renameFunc = os.Rename

// Placer relocates staged downloads into the permanent archive layout:
// {media_root}/{camera}/{YYYY}/{MM}/{DD}/{filename}, partitioned by the
// staged file's modification time.
type Placer struct {
	mediaRoot string
	index     *Index
}

func NewPlacer(mediaRoot string, index *Index) *Placer {
	return &Placer{mediaRoot: mediaRoot, index: index}
}

// Place moves the staged file into its date partition and then replaces
// the staging copy with an index marker. The marker is written only
// after the rename succeeds, so a failed move leaves the clip eligible
// for retry on the next invocation. On success exactly one copy of the
// clip exists, at the returned archive path.
func (p *Placer) Place(stagedPath, cameraName string) (string, error) {
	info, err := os.Stat(stagedPath)
	if err != nil {
		return "", &FilesystemError{Op: "stat staged clip", Path: stagedPath, Err: err}
	}

	capturedAt := info.ModTime()
	dir := filepath.Join(p.mediaRoot, cameraName,
		fmt.Sprintf("%04d", capturedAt.Year()),
		fmt.Sprintf("%02d", capturedAt.Month()),
		fmt.Sprintf("%02d", capturedAt.Day()),
	)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &FilesystemError{Op: "create archive partition", Path: dir, Err: err}
	}

	filename := filepath.Base(stagedPath)
	dest := filepath.Join(dir, filename)
	if err := renameFunc(stagedPath, dest); err != nil {
		// A staged file left in the index would read as already
		// ingested and suppress re-download, so drop it; the next
		// invocation fetches the clip again.
		os.Remove(stagedPath)
		return "", &FilesystemError{Op: "move clip into archive", Path: dest, Err: err}
	}

	if err := p.index.Mark(filename); err != nil {
		return "", err
	}
	return dest, nil
}
