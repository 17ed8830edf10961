// Package fetch opens remote byte streams for manifests and blobs.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Fetcher opens a stream for a URL. The caller closes the stream.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	return f(ctx, url)
}

// StatusError is a non-success response from a remote source.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: server returned %d", e.URL, e.StatusCode)
}

// Mux dispatches on the URL scheme.
type Mux struct {
	fetchers map[string]Fetcher
}

// NewMux creates an empty scheme mux.
func NewMux() *Mux {
	return &Mux{fetchers: make(map[string]Fetcher)}
}

// Handle registers f for a scheme ("http", "s3", "file", ...).
func (m *Mux) Handle(scheme string, f Fetcher) *Mux {
	m.fetchers[strings.ToLower(scheme)] = f
	return m
}

// Fetch implements Fetcher.
func (m *Mux) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	scheme := Scheme(rawURL)
	f, ok := m.fetchers[scheme]
	if !ok {
		return nil, fmt.Errorf("fetch %s: no fetcher for scheme %q", rawURL, scheme)
	}
	return f.Fetch(ctx, rawURL)
}

// Scheme returns the lower-cased URL scheme. Bare paths, including Windows
// drive paths, report "file".
func Scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || len(u.Scheme) <= 1 {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// NormalizeBase makes sure a base URL ends with a slash.
func NormalizeBase(base string) string {
	if base == "" || strings.HasSuffix(base, "/") {
		return base
	}
	return base + "/"
}

// Dir returns the URL of the directory containing rawURL, with a trailing
// slash.
func Dir(rawURL string) string {
	i := strings.LastIndexAny(rawURL, `/\`)
	if i < 0 {
		return ""
	}
	return rawURL[:i+1]
}
