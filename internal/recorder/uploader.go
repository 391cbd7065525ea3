package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DirectoryUploader copies artifacts into a directory, typically a mounted
// volume
type DirectoryUploader struct {
	dir    string
	logger *slog.Logger
}

// NewDirectoryUploader creates an uploader targeting dir
func NewDirectoryUploader(dir string, logger *slog.Logger) *DirectoryUploader {
	return &DirectoryUploader{dir: dir, logger: logger}
}

// Upload copies path into the directory and returns the destination path.
// The copy is written under a temporary name and renamed into place.
func (u *DirectoryUploader) Upload(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer src.Close()

	dest := filepath.Join(u.dir, filepath.Base(path))

	tmp, err := os.CreateTemp(u.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}

	u.logger.Debug("Artifact uploaded",
		slog.String("destination", dest),
	)

	return dest, nil
}

// HTTPUploader PUTs artifacts to endpoint/<file name>
type HTTPUploader struct {
	client   *http.Client
	endpoint string
	token    string
	logger   *slog.Logger
}

// NewHTTPUploader creates an uploader targeting endpoint. An empty token
// sends no Authorization header.
func NewHTTPUploader(client *http.Client, endpoint, token string, logger *slog.Logger) *HTTPUploader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPUploader{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		logger:   logger,
	}
}

// Upload streams path to the endpoint and returns the object URL
func (u *HTTPUploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}

	location := u.endpoint + "/" + url.PathEscape(filepath.Base(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, location, f)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected upload status: %s", resp.Status)
	}

	u.logger.Debug("Artifact uploaded",
		slog.String("location", location),
		slog.Int64("bytes", info.Size()),
	)

	return location, nil
}
