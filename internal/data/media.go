package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Yuanja/watch-tracker-sub002/internal/biz/repo"
)

// mediaFetcher downloads message media over HTTP into a local directory.
type mediaFetcher struct {
	dir    string
	client *http.Client
}

// NewMediaFetcher creates a media fetcher storing files under dir
func NewMediaFetcher(dir string) (repo.MediaFetcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &mediaFetcher{
		dir:    dir,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Fetch downloads the media and returns its local path
func (f *mediaFetcher) Fetch(ctx context.Context, url, mediaType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build media request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	name := uuid.NewString() + extensionFor(mediaType)
	path := filepath.Join(f.dir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return path, nil
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image", "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "video", "video/mp4":
		return ".mp4"
	case "audio", "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
