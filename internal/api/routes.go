package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/clipvault/clipvault-agent/internal/archive"
	"github.com/clipvault/clipvault-agent/internal/camera"
)

// IngestService is what the handlers need from the archival pipeline.
type IngestService interface {
	Run(ctx context.Context, selectors []string, since time.Time, mode archive.Mode) (map[string][]string, error)
	Snapshot(ctx context.Context, cameraName string) (string, error)
	Cameras(ctx context.Context) ([]camera.Camera, error)
	IsIngesting() bool
	MediaRoot() string
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", healthHandler(cfg))
	r.Get("/media/*", mediaHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/get-camera-info", cameraInfoHandler(cfg))
		r.Post("/snap", snapHandler(cfg))

		r.Post("/download-recent-clips", downloadHandler(cfg, archive.ModeFlat, false))
		r.Post("/download-clips-since", downloadHandler(cfg, archive.ModeFlat, true))
		r.Post("/download-recent-clips-and-sort", downloadHandler(cfg, archive.ModeIndexed, false))
		r.Post("/download-clips-since-and-sort", downloadHandler(cfg, archive.ModeIndexed, true))
		r.Post("/download-recent-sync-clips-and-sort", downloadHandler(cfg, archive.ModeSync, false))
		r.Post("/download-sync-clips-since-and-sort", downloadHandler(cfg, archive.ModeSync, true))

		r.Get("/runs", listRunsHandler(cfg))
		r.Get("/runs/{id}", getRunHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := "idle"
		if cfg.Ingestor.IsIngesting() {
			state = "ingesting"
		}

		resp := StatusResponse{State: state}

		runs, err := cfg.Repository.ListRuns(r.Context(), 1)
		if err != nil {
			cfg.Logger.Error("failed to list runs for status", "error", err)
		} else if len(runs) > 0 {
			last := RunToResponse(runs[0])
			resp.LastRun = &last
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func cameraInfoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cams, err := cfg.Ingestor.Cameras(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, CameraInfoResponse{Cameras: cams})
	}
}

func snapHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SnapRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.CameraName == "" {
			WriteError(w, http.StatusBadRequest, "camera_name is required", "BAD_REQUEST")
			return
		}

		path, err := cfg.Ingestor.Snapshot(r.Context(), req.CameraName)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		rel, err := filepath.Rel(cfg.Ingestor.MediaRoot(), path)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "snapshot path outside media root", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, SnapResponse{URL: "/media/" + filepath.ToSlash(rel)})
	}
}

// downloadHandler serves every download variant: the mode picks the
// pipeline configuration and allowSince controls whether the request may
// carry an explicit cutoff instead of the lookback window.
func downloadHandler(cfg ServerConfig, mode archive.Mode, allowSince bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DownloadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		selectors := []string(req.CameraName)
		if len(selectors) == 0 {
			selectors = []string{camera.SelectorAll}
		}

		since := time.Now().UTC().Add(-time.Duration(cfg.LookbackHours) * time.Hour)
		if allowSince && req.Since != "" {
			parsed, err := time.Parse(time.RFC3339, req.Since)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp", "BAD_REQUEST")
				return
			}
			since = parsed
		}

		clips, err := cfg.Ingestor.Run(r.Context(), selectors, since, mode)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, DownloadResponse{
			Since:           since.UTC().Format(time.RFC3339),
			DownloadedClips: clips,
		})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.Repository.ListRuns(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}

		run, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := chi.URLParam(r, "*")
		if err := cfg.Media.ServeRelative(w, r, rel); err != nil {
			cfg.Logger.Error("media serve error", "error", err, "path", rel)
		}
	}
}

// writeServiceError maps the pipeline's error taxonomy onto HTTP status
// codes; the pipeline itself knows nothing about HTTP.
func writeServiceError(w http.ResponseWriter, err error) {
	var notFound *camera.NotFoundError
	var authErr *camera.AuthError
	var transportErr *camera.TransportError

	switch {
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.As(err, &authErr):
		WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_AUTH")
	case errors.As(err, &transportErr):
		WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_UNAVAILABLE")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
