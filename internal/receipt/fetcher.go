package receipt

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"
)

// ImageFetcher resolves a job's image URL and downloads the raw bytes.
// Bytes are fetched on demand for every job, never cached across jobs.
type ImageFetcher interface {
	Fetch(ctx context.Context, imageURL string) (data []byte, contentType string, err error)
}

// StorageFetcher resolves image URLs against the local image store: the
// last path segment of the URL is the storage key. Absolute http(s) URLs
// are downloaded instead.
type StorageFetcher struct {
	storage Storage
	client  *http.Client
}

// NewStorageFetcher creates a fetcher over the given image store.
func NewStorageFetcher(storage Storage) *StorageFetcher {
	return &StorageFetcher{
		storage: storage,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch downloads the image the URL points at.
func (f *StorageFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("parsing image url: %w", err)
	}

	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		return f.fetchHTTP(ctx, imageURL)
	}

	key := path.Base(parsed.Path)
	if key == "" || key == "." || key == "/" {
		return nil, "", fmt.Errorf("image url %q has no storage key", imageURL)
	}

	data, err := f.storage.Get(key)
	if err != nil {
		return nil, "", fmt.Errorf("fetching image %s: %w", key, err)
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	return data, contentType, nil
}

func (f *StorageFetcher) fetchHTTP(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("downloading image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading image body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
