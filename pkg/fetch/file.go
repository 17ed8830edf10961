package fetch

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// File reads local files, addressed either as file:// URLs or bare paths.
type File struct{}

// Fetch implements Fetcher.
func (File) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(LocalPath(rawURL))
}

// LocalPath converts a file:// URL to a filesystem path. Other input is
// returned unchanged.
func LocalPath(rawURL string) string {
	if !strings.HasPrefix(strings.ToLower(rawURL), "file://") {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimPrefix(rawURL, "file://")
	}
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		p = "//" + u.Host + p
	}
	// file:///C:/dir -> C:/dir
	if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}
