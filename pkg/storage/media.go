package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxFetchBytes = 256 << 20

// Media re-hosts externally referenced images and videos in the object
// store so that provider URLs (which expire) never reach clients.
type Media struct {
	objects    ObjectStore
	httpClient *http.Client
}

// NewMedia wires the re-hosting helper to an object store.
func NewMedia(objects ObjectStore) *Media {
	return &Media{
		objects:    objects,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Objects exposes the underlying store.
func (m *Media) Objects() ObjectStore { return m.objects }

// StoreImage hosts an image reference (data URL or remote URL) under key
// and returns the public URL. References already hosted here pass through.
func (m *Media) StoreImage(ctx context.Context, key, ref string) (string, error) {
	if m.objects.Owns(ref) {
		return ref, nil
	}
	if strings.HasPrefix(ref, "data:") {
		data, contentType, err := DecodeDataURL(ref)
		if err != nil {
			return "", err
		}
		return PutBytes(ctx, m.objects, key, data, contentType)
	}
	return m.fetchAndStore(ctx, key, ref, "image/png")
}

// StoreVideo re-hosts a remote video URL under key.
func (m *Media) StoreVideo(ctx context.Context, key, url string) (string, error) {
	if m.objects.Owns(url) {
		return url, nil
	}
	return m.fetchAndStore(ctx, key, url, "video/mp4")
}

func (m *Media) fetchAndStore(ctx context.Context, key, url, fallbackType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = fallbackType
	}
	body := io.LimitReader(resp.Body, maxFetchBytes)
	if err := m.objects.Put(ctx, key, body, resp.ContentLength, contentType); err != nil {
		return "", err
	}
	return m.objects.PublicURL(key), nil
}

// DecodeDataURL splits a data URL into payload bytes and content type.
func DecodeDataURL(ref string) ([]byte, string, error) {
	rest := strings.TrimPrefix(ref, "data:")
	sep := strings.Index(rest, ",")
	if sep < 0 {
		return nil, "", fmt.Errorf("malformed data url")
	}
	meta, payload := rest[:sep], rest[sep+1:]
	contentType := "application/octet-stream"
	if i := strings.Index(meta, ";"); i >= 0 {
		if meta[:i] != "" {
			contentType = meta[:i]
		}
	} else if meta != "" {
		contentType = meta
	}
	if !strings.Contains(meta, "base64") {
		return nil, "", fmt.Errorf("unsupported data url encoding")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, contentType, nil
}
