package archive

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipvault/clipvault-agent/internal/camera"
)

// Mode selects how an ingestion run sources and stores clips.
type Mode string

const (
	// ModeFlat downloads into a flat per-camera folder, deduplicated by
	// the folder's own listing. No archive partitions, no latest mirror.
	ModeFlat Mode = "flat"
	// ModeIndexed runs the full pipeline: marker index, date-partitioned
	// archive, latest mirror with pruning.
	ModeIndexed Mode = "indexed"
	// ModeSync is ModeIndexed fed from the sync module's local-storage
	// manifest instead of the account media endpoint.
	ModeSync Mode = "sync"
)

// HistoryRecorder receives run lifecycle events. The pipeline only ever
// writes to it; nothing in the ingestion path reads recorded history.
type HistoryRecorder interface {
	RunStarted(ctx context.Context, id string, mode, selector, since string) error
	RunFinished(ctx context.Context, id string, newClips int, errMsg string) error
}

// Ingestor coordinates one ingestion invocation: open a source session,
// resolve the camera set, download new clips, place them into the
// archive, refresh the latest mirror, prune it, close the session.
// Invocations are serialized; the filesystem state model assumes a
// single run at a time per media root.
type Ingestor struct {
	source           camera.Source
	syncSource       camera.Source
	mediaRoot        string
	index            *Index
	placer           *Placer
	latest           *LatestView
	policy           RetentionPolicy
	snapshotFilename string
	logger           *slog.Logger
	history          HistoryRecorder

	mu        sync.Mutex
	ingesting atomic.Bool
	now       func() time.Time
}

type IngestorConfig struct {
	Source           camera.Source
	SyncSource       camera.Source
	MediaRoot        string
	Policy           RetentionPolicy
	SnapshotFilename string
	Logger           *slog.Logger
}

func NewIngestor(cfg IngestorConfig) (*Ingestor, error) {
	if err := os.MkdirAll(cfg.MediaRoot, 0755); err != nil {
		return nil, &FilesystemError{Op: "create media root", Path: cfg.MediaRoot, Err: err}
	}
	index, err := NewIndex(cfg.MediaRoot)
	if err != nil {
		return nil, err
	}
	latest, err := NewLatestView(cfg.MediaRoot)
	if err != nil {
		return nil, err
	}

	return &Ingestor{
		source:           cfg.Source,
		syncSource:       cfg.SyncSource,
		mediaRoot:        cfg.MediaRoot,
		index:            index,
		placer:           NewPlacer(cfg.MediaRoot, index),
		latest:           latest,
		policy:           cfg.Policy,
		snapshotFilename: cfg.SnapshotFilename,
		logger:           cfg.Logger,
		now:              time.Now,
	}, nil
}

// SetHistory attaches an optional run history recorder.
func (g *Ingestor) SetHistory(h HistoryRecorder) {
	g.history = h
}

// IsIngesting reports whether a run is currently executing.
func (g *Ingestor) IsIngesting() bool {
	return g.ingesting.Load()
}

// MediaRoot returns the archive root directory.
func (g *Ingestor) MediaRoot() string {
	return g.mediaRoot
}

// Run executes one ingestion invocation and returns the archive paths
// newly created for each requested selector. A selector with no new
// clips maps to an empty list; an unknown specific camera aborts the run
// with a NotFoundError before any side effects for it occur.
func (g *Ingestor) Run(ctx context.Context, selectors []string, since time.Time, mode Mode) (map[string][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ingesting.Store(true)
	defer g.ingesting.Store(false)

	runID := NewID()
	logger := g.logger.With("run_id", runID, "mode", string(mode))
	logger.Info("ingestion run starting",
		"selectors", strings.Join(selectors, ","),
		"since", since.UTC().Format(time.RFC3339),
	)

	g.recordStart(ctx, runID, mode, selectors, since)

	result, err := g.run(ctx, logger, selectors, since, mode)

	total := 0
	for _, paths := range result {
		total += len(paths)
	}
	g.recordFinish(ctx, runID, total, err)

	if err != nil {
		logger.Error("ingestion run failed", "error", err)
		return nil, err
	}
	logger.Info("ingestion run completed", "new_clips", total)
	return result, nil
}

func (g *Ingestor) run(ctx context.Context, logger *slog.Logger, selectors []string, since time.Time, mode Mode) (map[string][]string, error) {
	src := g.source
	if mode == ModeSync {
		if g.syncSource == nil {
			return nil, fmt.Errorf("sync source not configured")
		}
		src = g.syncSource
	}

	session, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("failed to close camera cloud session", "error", cerr)
		}
	}()

	cams, err := session.Cameras(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(cams))
	for _, cam := range cams {
		known[cam.Name] = true
	}

	result := make(map[string][]string, len(selectors))
	for _, sel := range selectors {
		if sel != camera.SelectorAll && !known[sel] {
			return nil, &camera.NotFoundError{Camera: sel}
		}

		var paths []string
		if mode == ModeFlat {
			paths, err = g.runFlat(ctx, session, sel, since)
		} else {
			paths, err = g.runIndexed(ctx, logger, session, sel, since)
		}
		if err != nil {
			return nil, err
		}
		result[sel] = paths
	}

	if mode != ModeFlat {
		removed, err := g.latest.Prune(g.policy, g.now())
		if err != nil {
			return nil, err
		}
		if len(removed) > 0 {
			logger.Info("pruned latest view", "removed", len(removed))
		}
	}

	return result, nil
}

// runIndexed fetches not-yet-seen clips into the index staging area,
// diffs the index listing around the batch to find the new filenames,
// then places and mirrors each one.
func (g *Ingestor) runIndexed(ctx context.Context, logger *slog.Logger, session camera.Session, sel string, since time.Time) ([]string, error) {
	before, err := g.index.List()
	if err != nil {
		return nil, err
	}

	refs, err := session.ListClips(ctx, sel, since)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]camera.ClipRef, len(refs))
	for _, ref := range refs {
		name := ref.Filename()
		byName[name] = ref
		if g.index.Exists(name) {
			continue
		}
		if err := session.Fetch(ctx, ref, g.index.StagingPath(name)); err != nil {
			return nil, err
		}
		logger.Debug("clip staged", "filename", name, "camera", ref.CameraName)
	}

	after, err := g.index.List()
	if err != nil {
		return nil, err
	}

	newNames := make([]string, 0)
	for name := range after {
		if !before[name] {
			newNames = append(newNames, name)
		}
	}
	sort.Strings(newNames)

	paths := make([]string, 0, len(newNames))
	for _, name := range newNames {
		ref, ok := byName[name]
		if !ok {
			logger.Warn("staged file has no matching clip, leaving in place", "filename", name)
			continue
		}
		dest, err := g.placer.Place(g.index.StagingPath(name), camera.SanitizeName(ref.CameraName))
		if err != nil {
			return nil, err
		}
		if err := g.latest.Mirror(dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

// runFlat downloads into {media_root}/{selector} with the destination
// folder's own listing as the dedup set. No placement, no mirroring.
func (g *Ingestor) runFlat(ctx context.Context, session camera.Session, sel string, since time.Time) ([]string, error) {
	dir := filepath.Join(g.mediaRoot, camera.SanitizeName(sel))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &FilesystemError{Op: "create download dir", Path: dir, Err: err}
	}

	before, err := listDir(dir)
	if err != nil {
		return nil, err
	}

	refs, err := session.ListClips(ctx, sel, since)
	if err != nil {
		return nil, err
	}

	for _, ref := range refs {
		name := vendorFilename(ref)
		if before[name] {
			continue
		}
		if err := session.Fetch(ctx, ref, filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}

	after, err := listDir(dir)
	if err != nil {
		return nil, err
	}

	newNames := make([]string, 0)
	for name := range after {
		if !before[name] {
			newNames = append(newNames, name)
		}
	}
	sort.Strings(newNames)

	paths := make([]string, 0, len(newNames))
	for _, name := range newNames {
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}

// Snapshot triggers a capture on the named camera and saves the image
// under the camera's flat folder.
func (g *Ingestor) Snapshot(ctx context.Context, cameraName string) (string, error) {
	session, err := g.source.Open(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			g.logger.Warn("failed to close camera cloud session", "error", cerr)
		}
	}()

	dir := filepath.Join(g.mediaRoot, camera.SanitizeName(cameraName))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &FilesystemError{Op: "create camera dir", Path: dir, Err: err}
	}

	dest := filepath.Join(dir, g.snapshotFilename)
	if err := session.Snapshot(ctx, cameraName, dest); err != nil {
		return "", err
	}

	g.logger.Info("snapshot saved", "camera", cameraName, "path", dest)
	return dest, nil
}

// Cameras lists the cameras known to the account.
func (g *Ingestor) Cameras(ctx context.Context) ([]camera.Camera, error) {
	session, err := g.source.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			g.logger.Warn("failed to close camera cloud session", "error", cerr)
		}
	}()

	return session.Cameras(ctx)
}

func (g *Ingestor) recordStart(ctx context.Context, runID string, mode Mode, selectors []string, since time.Time) {
	if g.history == nil {
		return
	}
	err := g.history.RunStarted(ctx, runID, string(mode),
		strings.Join(selectors, ","), since.UTC().Format(time.RFC3339))
	if err != nil {
		g.logger.Warn("failed to record run start", "run_id", runID, "error", err)
	}
}

func (g *Ingestor) recordFinish(ctx context.Context, runID string, newClips int, runErr error) {
	if g.history == nil {
		return
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := g.history.RunFinished(ctx, runID, newClips, errMsg); err != nil {
		g.logger.Warn("failed to record run finish", "run_id", runID, "error", err)
	}
}

// vendorFilename prefers the upstream basename for flat downloads,
// falling back to the canonical name when the media path has none.
func vendorFilename(ref camera.ClipRef) string {
	base := filepath.Base(ref.MediaPath)
	if base == "." || base == "/" || base == "" {
		return ref.Filename()
	}
	return camera.SanitizeName(base)
}

func listDir(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &FilesystemError{Op: "list dir", Path: dir, Err: err}
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

// NewID returns a random identifier for run records.
func NewID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
