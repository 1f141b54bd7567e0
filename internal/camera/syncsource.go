package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// Interval between manifest readiness polls.
	manifestPollInterval = time.Second

	// Polls before the manifest request is declared dead.
	manifestMaxPolls = 60
)

// SyncSource lists and fetches clips through the sync module's
// local-storage manifest instead of the account media endpoint. It
// satisfies the same Source contract, so the archival pipeline does not
// know which variant it is driving.
type SyncSource struct {
	client       *Client
	pollInterval time.Duration
	maxPolls     int
}

func NewSyncSource(client *Client) *SyncSource {
	return &SyncSource{
		client:       client,
		pollInterval: manifestPollInterval,
		maxPolls:     manifestMaxPolls,
	}
}

func (s *SyncSource) Open(ctx context.Context) (Session, error) {
	inner, err := s.client.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &syncSession{
		cloudSession: inner.(*cloudSession),
		src:          s,
	}, nil
}

// syncSession overrides clip listing and fetching; cameras, snapshots
// and session lifecycle come from the underlying cloud session.
type syncSession struct {
	*cloudSession
	src     *SyncSource
	entries []syncEntry
	loaded  bool
}

type syncEntry struct {
	clipID     string
	cameraName string
	createdAt  time.Time
	clipPath   string
}

type manifestRequestResponse struct {
	ID int `json:"id"`
}

type manifestResponse struct {
	ManifestID string `json:"manifest_id"`
	Clips      []struct {
		ID         string `json:"id"`
		CameraName string `json:"camera_name"`
		CreatedAt  string `json:"created_at"`
		Size       int64  `json:"size"`
	} `json:"clips"`
}

func (s *syncSession) ListClips(ctx context.Context, cameraName string, since time.Time) ([]ClipRef, error) {
	if err := s.loadManifests(ctx); err != nil {
		return nil, err
	}

	var refs []ClipRef
	for _, e := range s.entries {
		if cameraName != SelectorAll && e.cameraName != cameraName {
			continue
		}
		if e.createdAt.Before(since) {
			continue
		}
		refs = append(refs, ClipRef{
			CameraName: e.cameraName,
			CreatedAt:  e.createdAt,
			MediaPath:  e.clipPath,
		})
	}
	return refs, nil
}

// Fetch asks the sync module to stage the clip, then downloads it. The
// same inter-fetch throttle applies as for cloud-hosted clips.
func (s *syncSession) Fetch(ctx context.Context, ref ClipRef, destPath string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	url := s.restURL + ref.MediaPath
	if err := s.post(ctx, "stage sync clip", url, nil); err != nil {
		return err
	}
	return s.download(ctx, "fetch sync clip", url, destPath)
}

// loadManifests requests a local-storage manifest for every network on
// the account and polls each at a fixed interval until the sync module
// reports it ready. Manifests are loaded once per session.
func (s *syncSession) loadManifests(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	cams, err := s.Cameras(ctx)
	if err != nil {
		return err
	}
	networks := make(map[int]bool)
	for _, cam := range cams {
		networks[cam.NetworkID] = true
	}

	for networkID := range networks {
		if err := s.loadNetworkManifest(ctx, networkID); err != nil {
			return err
		}
	}

	s.loaded = true
	return nil
}

func (s *syncSession) loadNetworkManifest(ctx context.Context, networkID int) error {
	base := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/sync_modules/local_storage/manifest",
		s.restURL, s.accountID, networkID)

	var reqResp manifestRequestResponse
	if err := s.postJSON(ctx, "request manifest", base+"/request", &reqResp); err != nil {
		return err
	}

	pollURL := fmt.Sprintf("%s/request/%d", base, reqResp.ID)
	var manifest manifestResponse
	for poll := 0; ; poll++ {
		if poll >= s.src.maxPolls {
			return &TransportError{Op: "await manifest", Err: fmt.Errorf("manifest for network %d not ready after %d polls", networkID, poll)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.src.pollInterval):
		}

		if err := s.getJSON(ctx, "poll manifest", pollURL, &manifest); err != nil {
			return err
		}
		if manifest.ManifestID != "" {
			break
		}
	}

	for _, c := range manifest.Clips {
		createdAt, err := time.Parse(time.RFC3339, c.CreatedAt)
		if err != nil {
			s.client.logger.Warn("skipping sync clip with unparseable timestamp",
				"clip_id", c.ID, "created_at", c.CreatedAt)
			continue
		}
		s.entries = append(s.entries, syncEntry{
			clipID:     c.ID,
			cameraName: c.CameraName,
			createdAt:  createdAt,
			clipPath: fmt.Sprintf("/api/v1/accounts/%d/networks/%d/sync_modules/local_storage/manifest/%s/clip/request/%s",
				s.accountID, networkID, manifest.ManifestID, c.ID),
		})
	}

	s.client.logger.Info("sync module manifest loaded",
		"network_id", networkID,
		"manifest_id", manifest.ManifestID,
		"clips", len(manifest.Clips),
	)
	return nil
}

func (s *cloudSession) postJSON(ctx context.Context, op, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	resp, err := s.do(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
