package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Source abstracts where the GTFS bundle comes from. LastModified must
// be cheap to call; Open returns the full bundle.
type Source interface {
	Location() string
	LastModified(ctx context.Context) (time.Time, error)
	Open(ctx context.Context) (io.ReadCloser, error)
}

// NewSource picks an implementation from the configured location:
// anything with an http(s) scheme is fetched remotely, everything else
// is treated as a local path.
func NewSource(location string) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return &HTTPSource{
			url: location,
			headClient: &http.Client{
				Timeout: 30 * time.Second,
			},
			client: &http.Client{
				Timeout: 5 * time.Minute, // bundles can be large
			},
		}
	}
	return &FileSource{path: location}
}

type HTTPSource struct {
	url        string
	headClient *http.Client
	client     *http.Client
}

func (s *HTTPSource) Location() string { return s.url }

// LastModified issues a HEAD request and reads the Last-Modified
// header. A missing header yields a zero time, not an error.
func (s *HTTPSource) LastModified(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.headClient.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("checking bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("checking bundle: unexpected status %d", resp.StatusCode)
	}

	header := resp.Header.Get("Last-Modified")
	if header == "" {
		return time.Time{}, nil
	}

	modified, err := http.ParseTime(header)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing Last-Modified header: %w", err)
	}
	return modified, nil
}

func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading bundle: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading bundle: unexpected status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

type FileSource struct {
	path string
}

func (s *FileSource) Location() string { return s.path }

func (s *FileSource) LastModified(ctx context.Context) (time.Time, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stating bundle: %w", err)
	}
	return info.ModTime(), nil
}

func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	return f, nil
}
