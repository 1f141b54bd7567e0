package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clipvault/clipvault-agent/internal/history"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State   string       `json:"state"`
	LastRun *RunResponse `json:"last_run,omitempty"`
}

// CameraNames accepts either a single JSON string or an array of
// strings, matching what callers historically sent for camera_name.
type CameraNames []string

func (c *CameraNames) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*c = CameraNames{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*c = CameraNames(many)
		return nil
	}
	return fmt.Errorf("camera_name must be a string or a list of strings")
}

type DownloadRequest struct {
	CameraName CameraNames `json:"camera_name,omitempty"`
	Since      string      `json:"since,omitempty"`
}

type DownloadResponse struct {
	Since           string              `json:"since"`
	DownloadedClips map[string][]string `json:"downloaded_clips"`
}

type SnapRequest struct {
	CameraName string `json:"camera_name"`
}

type SnapResponse struct {
	URL string `json:"url"`
}

type CameraInfoResponse struct {
	Cameras any `json:"cameras"`
}

type RunResponse struct {
	ID         string `json:"id"`
	Mode       string `json:"mode"`
	Selector   string `json:"selector"`
	Since      string `json:"since"`
	Status     string `json:"status"`
	NewClips   int    `json:"new_clips"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(run *history.Run) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		Mode:      run.Mode,
		Selector:  run.Selector,
		Since:     run.Since,
		Status:    run.Status,
		NewClips:  run.NewClips,
		Error:     run.Error,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}
