// Package camera talks to the consumer camera cloud service: session
// lifecycle, camera enumeration, clip listing and download, snapshots.
// The rest of the agent only depends on the Source and Session
// interfaces so the archival pipeline is testable with a fake source.
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"
)

// SelectorAll targets every camera on the account.
const SelectorAll = "all"

// Credentials is the parsed contents of the credentials file.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

// LoadCredentials reads and parses the JSON credentials file. Errors are
// surfaced as AuthError because a missing or malformed file makes every
// session open fail the same way.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, &AuthError{Reason: "cannot read credentials file", Err: err}
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, &AuthError{Reason: "cannot parse credentials file", Err: err}
	}
	if creds.Email == "" || creds.Password == "" {
		return Credentials{}, &AuthError{Reason: "credentials file is missing email or password"}
	}
	return creds, nil
}

// Camera describes one camera on the account.
type Camera struct {
	ID        int    `json:"id"`
	NetworkID int    `json:"network_id"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Battery   string `json:"battery,omitempty"`
}

// ClipRef identifies one remote clip. MediaPath is the server-side
// download path; how it is dereferenced depends on the source.
type ClipRef struct {
	ID         int
	CameraName string
	CreatedAt  time.Time
	MediaPath  string
}

// Filename returns the canonical local filename for the clip:
// the camera name and the RFC3339 capture time with colons replaced,
// so the name is safe on any filesystem.
func (r ClipRef) Filename() string {
	ts := strings.ReplaceAll(r.CreatedAt.UTC().Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("%s_%s.mp4", SanitizeName(r.CameraName), ts)
}

// Source opens sessions against a clip provider.
type Source interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one authenticated conversation with the provider. Close
// must be called exactly once per session, on every exit path.
type Session interface {
	Cameras(ctx context.Context) ([]Camera, error)
	ListClips(ctx context.Context, cameraName string, since time.Time) ([]ClipRef, error)
	Fetch(ctx context.Context, ref ClipRef, destPath string) error
	Snapshot(ctx context.Context, cameraName, destPath string) error
	Close() error
}

// SanitizeName strips characters that are unsafe in filenames and
// directory components, replacing them with underscores.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return strings.TrimSpace(b.String())
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', '(', ')':
		return true
	default:
		return false
	}
}
