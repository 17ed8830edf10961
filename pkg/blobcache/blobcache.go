// Package blobcache manages the local directory of verified update blobs.
//
// The directory itself is the only record of what has been downloaded: a
// blob is present when <dir>/<hash> exists and its contents hash to <hash>.
package blobcache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fruitsalade/deltaupdate/pkg/hasher"
)

// Entry describes one blob on disk.
type Entry struct {
	Hash    string
	Size    int64
	ModTime time.Time
}

// Cache is a content-addressed blob directory.
type Cache struct {
	dir string
}

// New opens the cache at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns where the blob for hash lives.
func (c *Cache) Path(hash string) string {
	return filepath.Join(c.dir, hash)
}

// Has reports whether a verified copy of hash is present.
func (c *Cache) Has(hash string) bool {
	got, err := hasher.HashFile(c.Path(hash))
	return err == nil && got == hash
}

// Missing returns the hashes that are not present, in input order.
func (c *Cache) Missing(hashes []string) []string {
	var missing []string
	for _, h := range hashes {
		if !c.Has(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// Remove deletes a blob. Removing an absent blob is not an error.
func (c *Cache) Remove(hash string) error {
	if err := os.Remove(c.Path(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", hash, err)
	}
	return nil
}

// List returns every blob-named file in the cache. Contents are not
// verified.
func (c *Cache) List() ([]Entry, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		if !de.Type().IsRegular() || !hasher.ValidHash(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Hash:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// CleanTemp removes temp files left behind by interrupted downloads. It
// must not run while downloads into the cache are in flight.
func (c *Cache) CleanTemp() (int, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.tmp"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove temp file: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Stats returns the number of blobs and their total size.
func (c *Cache) Stats() (count int, size int64, err error) {
	entries, err := c.List()
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		size += e.Size
	}
	return len(entries), size, nil
}
