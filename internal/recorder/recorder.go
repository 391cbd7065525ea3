package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ArtifactPrefix starts every artifact name; the rest is a random UUID
const ArtifactPrefix = "recording-"

// ErrEmptyRecording is returned when the resource produced no bytes
var ErrEmptyRecording = errors.New("recording is empty")

// HTTPRecorder captures the body of an HTTP(S) resource to a local file
type HTTPRecorder struct {
	client    *http.Client
	workDir   string
	userAgent string
	logger    *slog.Logger
}

// NewHTTPRecorder creates a recorder writing into workDir
func NewHTTPRecorder(client *http.Client, workDir, userAgent string, logger *slog.Logger) *HTTPRecorder {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRecorder{
		client:    client,
		workDir:   workDir,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Record streams url into a new file for at most duration and returns its
// path. Reaching the duration ends a live stream successfully; a finite
// resource ends at EOF. On failure no file is left behind.
func (r *HTTPRecorder) Record(ctx context.Context, url string, duration time.Duration) (string, error) {
	recordCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	req, err := http.NewRequestWithContext(recordCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch resource: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status fetching resource: %s", resp.Status)
	}

	path := filepath.Join(r.workDir, ArtifactPrefix+uuid.NewString())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}

	written, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()

	// the recording bound elapsed while the parent context is still live
	if copyErr != nil && ctx.Err() == nil && errors.Is(recordCtx.Err(), context.DeadlineExceeded) {
		copyErr = nil
	}

	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to record resource: %w", err)
	}

	if written == 0 {
		os.Remove(path)
		return "", ErrEmptyRecording
	}

	r.logger.Debug("Recording captured",
		slog.String("path", path),
		slog.Int64("bytes", written),
	)

	return path, nil
}
