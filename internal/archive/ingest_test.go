package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipvault/clipvault-agent/internal/camera"
)

type fakeSource struct {
	session *fakeSession
	openErr error
	opens   int
}

func (s *fakeSource) Open(ctx context.Context) (camera.Session, error) {
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.session, nil
}

type fakeSession struct {
	cams    []camera.Camera
	clips   []camera.ClipRef
	content map[string][]byte

	listErr  error
	fetchErr error

	fetches int
	closes  int
}

func (s *fakeSession) Cameras(ctx context.Context) ([]camera.Camera, error) {
	return s.cams, nil
}

func (s *fakeSession) ListClips(ctx context.Context, cameraName string, since time.Time) ([]camera.ClipRef, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var refs []camera.ClipRef
	for _, ref := range s.clips {
		if cameraName != camera.SelectorAll && ref.CameraName != cameraName {
			continue
		}
		if ref.CreatedAt.Before(since) {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *fakeSession) Fetch(ctx context.Context, ref camera.ClipRef, destPath string) error {
	if s.fetchErr != nil {
		return s.fetchErr
	}
	s.fetches++
	data := s.content[ref.MediaPath]
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return err
	}
	// Downloaded files carry the capture time as their mtime.
	return os.Chtimes(destPath, ref.CreatedAt, ref.CreatedAt)
}

func (s *fakeSession) Snapshot(ctx context.Context, cameraName, destPath string) error {
	return os.WriteFile(destPath, []byte("jpeg"), 0644)
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

func testIngestor(t *testing.T, src camera.Source, policy RetentionPolicy) *Ingestor {
	t.Helper()
	g, err := NewIngestor(IngestorConfig{
		Source:           src,
		SyncSource:       src,
		MediaRoot:        t.TempDir(),
		Policy:           policy,
		SnapshotFilename: "last_snap.jpg",
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewIngestor() error = %v", err)
	}
	return g
}

func porchClips(t *testing.T) []camera.ClipRef {
	t.Helper()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	clips := make([]camera.ClipRef, 3)
	for i := range clips {
		clips[i] = camera.ClipRef{
			ID:         i + 1,
			CameraName: "porch",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			MediaPath:  "/media/clip_" + string(rune('a'+i)) + ".mp4",
		}
	}
	return clips
}

func TestRun_IndexedArchivesNewClips(t *testing.T) {
	clips := porchClips(t)
	session := &fakeSession{
		cams:  []camera.Camera{{ID: 1, Name: "porch", NetworkID: 10}},
		clips: clips,
		content: map[string][]byte{
			clips[0].MediaPath: []byte("clip-a"),
			clips[1].MediaPath: []byte("clip-b"),
			clips[2].MediaPath: []byte("clip-c"),
		},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	result, err := g.Run(context.Background(), []string{camera.SelectorAll}, since, ModeIndexed)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	paths := result[camera.SelectorAll]
	if len(paths) != 3 {
		t.Fatalf("archived %d clips, want 3", len(paths))
	}

	// Partitions follow the local capture date.
	captured := clips[0].CreatedAt.Local()
	wantDir := filepath.Join(g.MediaRoot(), "porch",
		fmt.Sprintf("%04d", captured.Year()),
		fmt.Sprintf("%02d", captured.Month()),
		fmt.Sprintf("%02d", captured.Day()),
	)
	for _, p := range paths {
		if filepath.Dir(p) != wantDir {
			t.Errorf("archive path %s not in partition %s", p, wantDir)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("archive entry missing: %v", err)
		}
	}

	// Every archived clip is mirrored byte for byte.
	for _, p := range paths {
		mirror := filepath.Join(g.MediaRoot(), LatestDirName, filepath.Base(p))
		got, err := os.ReadFile(mirror)
		if err != nil {
			t.Fatalf("latest mirror missing: %v", err)
		}
		want, _ := os.ReadFile(p)
		if !bytes.Equal(got, want) {
			t.Errorf("latest entry %s differs from archive entry", mirror)
		}
	}

	if session.closes != 1 {
		t.Errorf("session closed %d times, want 1", session.closes)
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	clips := porchClips(t)
	session := &fakeSession{
		cams:  []camera.Camera{{ID: 1, Name: "porch"}},
		clips: clips,
		content: map[string][]byte{
			clips[0].MediaPath: []byte("clip-a"),
			clips[1].MediaPath: []byte("clip-b"),
			clips[2].MediaPath: []byte("clip-c"),
		},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := g.Run(context.Background(), []string{camera.SelectorAll}, since, ModeIndexed); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	fetchesAfterFirst := session.fetches

	result, err := g.Run(context.Background(), []string{camera.SelectorAll}, since, ModeIndexed)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if len(result[camera.SelectorAll]) != 0 {
		t.Errorf("second run archived %d clips, want 0", len(result[camera.SelectorAll]))
	}
	if session.fetches != fetchesAfterFirst {
		t.Errorf("second run re-fetched clips: %d fetches, want %d", session.fetches, fetchesAfterFirst)
	}
	if session.closes != 2 {
		t.Errorf("session closed %d times, want 2", session.closes)
	}
}

func TestRun_MarkedClipNeverRefetched(t *testing.T) {
	clips := porchClips(t)[:1]
	session := &fakeSession{
		cams:    []camera.Camera{{ID: 1, Name: "porch"}},
		clips:   clips,
		content: map[string][]byte{clips[0].MediaPath: []byte("clip-a")},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	// Mark the clip as already ingested without it ever being staged.
	if err := g.index.Mark(clips[0].Filename()); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}

	since := time.Time{}
	result, err := g.Run(context.Background(), []string{"porch"}, since, ModeIndexed)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if session.fetches != 0 {
		t.Errorf("marked clip was re-fetched %d times", session.fetches)
	}
	if len(result["porch"]) != 0 {
		t.Errorf("marked clip reported as new")
	}
}

func TestRun_UnknownCameraFails(t *testing.T) {
	session := &fakeSession{
		cams: []camera.Camera{{ID: 1, Name: "porch"}},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	_, err := g.Run(context.Background(), []string{"garage"}, time.Time{}, ModeIndexed)
	var notFound *camera.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Run() error = %v, want NotFoundError", err)
	}
	if session.closes != 1 {
		t.Errorf("session closed %d times, want 1", session.closes)
	}
}

func TestRun_OpenFailurePropagates(t *testing.T) {
	src := &fakeSource{openErr: &camera.AuthError{Reason: "bad credentials"}}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	_, err := g.Run(context.Background(), []string{camera.SelectorAll}, time.Time{}, ModeIndexed)
	var authErr *camera.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Run() error = %v, want AuthError", err)
	}
}

func TestRun_FetchFailureClosesSessionAndLeavesNoMarker(t *testing.T) {
	clips := porchClips(t)[:1]
	session := &fakeSession{
		cams:     []camera.Camera{{ID: 1, Name: "porch"}},
		clips:    clips,
		fetchErr: &camera.TransportError{Op: "fetch clip", StatusCode: 503},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	_, err := g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeIndexed)
	var transportErr *camera.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Run() error = %v, want TransportError", err)
	}
	if session.closes != 1 {
		t.Errorf("session closed %d times, want 1", session.closes)
	}
	if g.index.Exists(clips[0].Filename()) {
		t.Error("failed fetch left an index entry; clip would never be retried")
	}
}

func TestRun_FailedPlacementRetriedNextRun(t *testing.T) {
	clips := porchClips(t)[:1]
	session := &fakeSession{
		cams:    []camera.Camera{{ID: 1, Name: "porch"}},
		clips:   clips,
		content: map[string][]byte{clips[0].MediaPath: []byte("clip-a")},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	orig := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return errors.New("invalid cross-device link")
	}
	defer func() { renameFunc = orig }()

	_, err := g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeIndexed)
	var fsErr *FilesystemError
	if !errors.As(err, &fsErr) {
		t.Fatalf("Run() error = %v, want FilesystemError", err)
	}
	if g.index.Exists(clips[0].Filename()) {
		t.Fatal("failed placement left the clip visible in the index")
	}

	renameFunc = orig
	result, err := g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeIndexed)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if session.fetches != 2 {
		t.Errorf("clip fetched %d times, want 2 (re-fetched after failed placement)", session.fetches)
	}
	if len(result["porch"]) != 1 {
		t.Fatalf("second run archived %d clips, want 1", len(result["porch"]))
	}
	if _, err := os.Stat(result["porch"][0]); err != nil {
		t.Errorf("archive entry missing after retry: %v", err)
	}
	if !g.index.Exists(clips[0].Filename()) {
		t.Error("marker missing after successful retry")
	}
}

func TestRun_FlatModeDownloadsToCameraFolder(t *testing.T) {
	clips := porchClips(t)
	session := &fakeSession{
		cams:  []camera.Camera{{ID: 1, Name: "porch"}},
		clips: clips,
		content: map[string][]byte{
			clips[0].MediaPath: []byte("clip-a"),
			clips[1].MediaPath: []byte("clip-b"),
			clips[2].MediaPath: []byte("clip-c"),
		},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	result, err := g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeFlat)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	paths := result["porch"]
	if len(paths) != 3 {
		t.Fatalf("downloaded %d clips, want 3", len(paths))
	}
	wantDir := filepath.Join(g.MediaRoot(), "porch")
	for _, p := range paths {
		if filepath.Dir(p) != wantDir {
			t.Errorf("flat download %s not in %s", p, wantDir)
		}
	}

	// No archive partitions and no latest entries in flat mode.
	if _, err := os.Stat(filepath.Join(g.MediaRoot(), "porch", "2025")); !os.IsNotExist(err) {
		t.Error("flat mode created an archive partition")
	}
	latestEntries, _ := os.ReadDir(filepath.Join(g.MediaRoot(), LatestDirName))
	if len(latestEntries) != 0 {
		t.Errorf("flat mode mirrored %d entries into latest", len(latestEntries))
	}

	// Second flat run finds nothing new.
	result, err = g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeFlat)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if len(result["porch"]) != 0 {
		t.Errorf("second flat run downloaded %d clips, want 0", len(result["porch"]))
	}
}

func TestRun_PruneAppliesAfterBatch(t *testing.T) {
	clips := porchClips(t)
	session := &fakeSession{
		cams:  []camera.Camera{{ID: 1, Name: "porch"}},
		clips: clips,
		content: map[string][]byte{
			clips[0].MediaPath: []byte("clip-a"),
			clips[1].MediaPath: []byte("clip-b"),
			clips[2].MediaPath: []byte("clip-c"),
		},
	}
	src := &fakeSource{session: session}
	// The policy is authoritative even when smaller than the batch.
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 2})

	if _, err := g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeIndexed); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(g.MediaRoot(), LatestDirName))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("latest has %d entries after prune, want 2", len(entries))
	}
	// The newest two clips survive.
	wantGone := clips[0].Filename()
	for _, e := range entries {
		if e.Name() == wantGone {
			t.Errorf("oldest clip %s survived count pruning", wantGone)
		}
	}
}

func TestRun_EmptyResultForQuietCamera(t *testing.T) {
	session := &fakeSession{
		cams: []camera.Camera{{ID: 1, Name: "porch"}},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	result, err := g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeIndexed)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	paths, ok := result["porch"]
	if !ok {
		t.Fatal("quiet camera missing from result")
	}
	if paths == nil || len(paths) != 0 {
		t.Errorf("quiet camera result = %v, want empty list", paths)
	}
}

func TestSnapshot_SavesUnderCameraFolder(t *testing.T) {
	session := &fakeSession{
		cams: []camera.Camera{{ID: 1, Name: "porch"}},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})

	path, err := g.Snapshot(context.Background(), "porch")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	want := filepath.Join(g.MediaRoot(), "porch", "last_snap.jpg")
	if path != want {
		t.Errorf("Snapshot() path = %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
	if session.closes != 1 {
		t.Errorf("session closed %d times, want 1", session.closes)
	}
}

type recordedRun struct {
	id, mode, selector, since string
	newClips                  int
	errMsg                    string
	finished                  bool
}

type fakeHistory struct {
	runs map[string]*recordedRun
	ids  []string
}

func (h *fakeHistory) RunStarted(ctx context.Context, id, mode, selector, since string) error {
	if h.runs == nil {
		h.runs = make(map[string]*recordedRun)
	}
	h.runs[id] = &recordedRun{id: id, mode: mode, selector: selector, since: since}
	h.ids = append(h.ids, id)
	return nil
}

func (h *fakeHistory) RunFinished(ctx context.Context, id string, newClips int, errMsg string) error {
	run, ok := h.runs[id]
	if !ok {
		return errors.New("unknown run")
	}
	run.newClips = newClips
	run.errMsg = errMsg
	run.finished = true
	return nil
}

func TestRun_RecordsHistory(t *testing.T) {
	clips := porchClips(t)[:1]
	session := &fakeSession{
		cams:    []camera.Camera{{ID: 1, Name: "porch"}},
		clips:   clips,
		content: map[string][]byte{clips[0].MediaPath: []byte("clip-a")},
	}
	src := &fakeSource{session: session}
	g := testIngestor(t, src, RetentionPolicy{MaxCount: 10})
	hist := &fakeHistory{}
	g.SetHistory(hist)

	if _, err := g.Run(context.Background(), []string{"porch"}, time.Time{}, ModeIndexed); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(hist.ids) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(hist.ids))
	}
	run := hist.runs[hist.ids[0]]
	if !run.finished {
		t.Error("run never marked finished")
	}
	if run.newClips != 1 {
		t.Errorf("recorded %d new clips, want 1", run.newClips)
	}
	if run.mode != string(ModeIndexed) || run.selector != "porch" {
		t.Errorf("recorded mode/selector = %s/%s", run.mode, run.selector)
	}
}
