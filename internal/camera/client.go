package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	defaultLoginURL = "https://rest-prod.immedia-semi.com"

	// Pause between successive clip downloads within one session. This is
	// a throttle the cloud service expects, not an error-recovery delay.
	fetchDelay = 2 * time.Second

	// Time the cloud needs to produce a fresh thumbnail after a trigger.
	snapshotSettleDelay = 5 * time.Second

	authHeader = "token-auth"
)

// Client is the real camera cloud source. It authenticates with the
// account login endpoint and talks to the per-tier REST host the login
// response names.
type Client struct {
	loginURL   string
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger

	// Injectable in tests so they do not sleep for real.
	fetchDelay  time.Duration
	settleDelay time.Duration
}

// NewClient builds a Client. baseURL overrides both the login endpoint
// and the REST host when non-empty (tests, self-hosted relays).
func NewClient(creds Credentials, baseURL string, logger *slog.Logger) *Client {
	loginURL := defaultLoginURL
	if baseURL != "" {
		loginURL = baseURL
	}
	return &Client{
		loginURL: loginURL,
		creds:    creds,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger:      logger,
		fetchDelay:  fetchDelay,
		settleDelay: snapshotSettleDelay,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	UniqueID string `json:"unique_id,omitempty"`
	Reauth   bool   `json:"reauth"`
}

type loginResponse struct {
	Account struct {
		AccountID int    `json:"account_id"`
		Tier      string `json:"tier"`
	} `json:"account"`
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

// Open authenticates and returns a live session. Bad credentials map to
// AuthError, network failures to TransportError.
func (c *Client) Open(ctx context.Context) (Session, error) {
	body, err := json.Marshal(loginRequest{
		Email:    c.creds.Email,
		Password: c.creds.Password,
		UniqueID: c.creds.DeviceID,
		Reauth:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	url := c.loginURL + "/api/v5/account/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: "login rejected by camera cloud"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &TransportError{Op: "login", StatusCode: resp.StatusCode}
	}

	var login loginResponse
	if err := json.Unmarshal(respBody, &login); err != nil {
		return nil, &TransportError{Op: "login", Err: fmt.Errorf("decode response: %w", err)}
	}
	if login.Auth.Token == "" {
		return nil, &AuthError{Reason: "login response contained no auth token"}
	}

	restURL := c.loginURL
	if c.loginURL == defaultLoginURL && login.Account.Tier != "" {
		restURL = fmt.Sprintf("https://rest-%s.immedia-semi.com", login.Account.Tier)
	}

	c.logger.Info("camera cloud session opened",
		"account_id", login.Account.AccountID,
		"tier", login.Account.Tier,
	)

	return &cloudSession{
		client:    c,
		restURL:   restURL,
		token:     login.Auth.Token,
		accountID: login.Account.AccountID,
	}, nil
}

// cloudSession is one authenticated conversation with the REST host.
type cloudSession struct {
	client    *Client
	restURL   string
	token     string
	accountID int

	lastFetch time.Time
	closed    bool
}

type homescreenResponse struct {
	Cameras []Camera `json:"cameras"`
	Owls    []Camera `json:"owls"`
}

func (s *cloudSession) Cameras(ctx context.Context) ([]Camera, error) {
	var home homescreenResponse
	url := fmt.Sprintf("%s/api/v3/accounts/%d/homescreen", s.restURL, s.accountID)
	if err := s.getJSON(ctx, "homescreen", url, &home); err != nil {
		return nil, err
	}
	return append(home.Cameras, home.Owls...), nil
}

type mediaChangedResponse struct {
	Media []struct {
		ID         int    `json:"id"`
		DeviceName string `json:"device_name"`
		CreatedAt  string `json:"created_at"`
		Media      string `json:"media"`
	} `json:"media"`
}

// ListClips pages through the media-changed endpoint and filters
// client-side by camera name and the since cutoff. cameraName may be
// SelectorAll.
func (s *cloudSession) ListClips(ctx context.Context, cameraName string, since time.Time) ([]ClipRef, error) {
	var refs []ClipRef
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/api/v1/accounts/%d/media/changed?since=%s&page=%d",
			s.restURL, s.accountID, since.UTC().Format(time.RFC3339), page)

		var changed mediaChangedResponse
		if err := s.getJSON(ctx, "list clips", url, &changed); err != nil {
			return nil, err
		}
		if len(changed.Media) == 0 {
			break
		}

		for _, m := range changed.Media {
			if cameraName != SelectorAll && m.DeviceName != cameraName {
				continue
			}
			createdAt, err := time.Parse(time.RFC3339, m.CreatedAt)
			if err != nil {
				s.client.logger.Warn("skipping clip with unparseable timestamp",
					"clip_id", m.ID, "created_at", m.CreatedAt)
				continue
			}
			if createdAt.Before(since) {
				continue
			}
			refs = append(refs, ClipRef{
				ID:         m.ID,
				CameraName: m.DeviceName,
				CreatedAt:  createdAt,
				MediaPath:  m.Media,
			})
		}
	}
	return refs, nil
}

// Fetch downloads the clip bytes to destPath, overwriting any existing
// file. Successive fetches within one session are separated by the fixed
// inter-fetch delay.
func (s *cloudSession) Fetch(ctx context.Context, ref ClipRef, destPath string) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}
	return s.download(ctx, "fetch clip", s.restURL+ref.MediaPath, destPath)
}

// Snapshot triggers a fresh thumbnail on the named camera, waits for the
// cloud to settle, then downloads the new thumbnail to destPath.
func (s *cloudSession) Snapshot(ctx context.Context, cameraName, destPath string) error {
	cam, err := s.findCamera(ctx, cameraName)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/network/%d/camera/%d/thumbnail", s.restURL, cam.NetworkID, cam.ID)
	if err := s.post(ctx, "trigger snapshot", url, nil); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.client.settleDelay):
	}

	// The homescreen is re-read so the thumbnail path reflects the
	// capture just triggered.
	cam, err = s.findCamera(ctx, cameraName)
	if err != nil {
		return err
	}
	if cam.Thumbnail == "" {
		return &TransportError{Op: "snapshot", Err: fmt.Errorf("camera %q has no thumbnail", cameraName)}
	}

	return s.download(ctx, "fetch snapshot", s.restURL+cam.Thumbnail+".jpg", destPath)
}

func (s *cloudSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.httpClient.CloseIdleConnections()
	s.client.logger.Debug("camera cloud session closed", "account_id", s.accountID)
	return nil
}

func (s *cloudSession) findCamera(ctx context.Context, name string) (Camera, error) {
	cams, err := s.Cameras(ctx)
	if err != nil {
		return Camera{}, err
	}
	for _, cam := range cams {
		if cam.Name == name {
			return cam, nil
		}
	}
	return Camera{}, &NotFoundError{Camera: name}
}

func (s *cloudSession) throttle(ctx context.Context) error {
	if !s.lastFetch.IsZero() {
		wait := s.client.fetchDelay - time.Since(s.lastFetch)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	s.lastFetch = time.Now()
	return nil
}

func (s *cloudSession) getJSON(ctx context.Context, op, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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

func (s *cloudSession) post(ctx context.Context, op, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	resp, err := s.do(op, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *cloudSession) download(ctx context.Context, op, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	resp, err := s.do(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(destPath)
		return &TransportError{Op: op, Err: err}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", destPath, err)
	}
	return nil
}

// do sends the request with the session token and normalizes failures
// into the error taxonomy. The caller owns the response body on success.
func (s *cloudSession) do(op string, req *http.Request) (*http.Response, error) {
	req.Header.Set(authHeader, s.token)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &AuthError{Reason: fmt.Sprintf("%s rejected: token expired or invalid", op)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	return resp, nil
}
