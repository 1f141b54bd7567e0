// Package mediaserve serves files out of the media root over HTTP with
// byte-range support, so snapshots render in a browser and archived
// clips seek in a media player.
package mediaserve

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Server serves paths relative to the media root. The marker index is
// internal pipeline state and is never exposed.
type Server struct {
	mediaRoot string
	hidden    map[string]bool
	logger    *slog.Logger
}

func NewServer(mediaRoot string, hiddenDirs []string, logger *slog.Logger) *Server {
	hidden := make(map[string]bool, len(hiddenDirs))
	for _, d := range hiddenDirs {
		hidden[d] = true
	}
	return &Server{mediaRoot: mediaRoot, hidden: hidden, logger: logger}
}

// ServeRelative resolves relPath inside the media root and streams it,
// honoring a single-range Range header. Traversal outside the root and
// hidden directories answer 404.
func (s *Server) ServeRelative(w http.ResponseWriter, r *http.Request, relPath string) error {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(relPath, "/")))
	if rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	if s.hidden[topDir(rel)] {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	file, err := os.Open(filepath.Join(s.mediaRoot, rel))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	contentType := mime.TypeByExtension(filepath.Ext(rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	parsedRange, err := ParseRange(r.Header.Get("Range"), size)

	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// A malformed Range header degrades to a full response.
	if parsedRange == nil || err == ErrInvalidRange {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, file)
		return nil
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", parsedRange.ContentLength()))
	w.Header().Set("Content-Range", parsedRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(parsedRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	io.CopyN(w, file, parsedRange.ContentLength())
	return nil
}

func topDir(rel string) string {
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	return parts[0]
}
