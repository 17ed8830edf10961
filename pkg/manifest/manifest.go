// Package manifest loads remote manifests and persists diff records.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/fruitsalade/deltaupdate/pkg/fetch"
	"github.com/fruitsalade/deltaupdate/pkg/hasher"
	"github.com/fruitsalade/deltaupdate/pkg/models"
)

// maxManifestSize caps how much of a manifest response is read.
const maxManifestSize = 64 << 20

// ErrInvalid marks a manifest that decoded but is unusable.
var ErrInvalid = errors.New("invalid manifest")

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*models.Manifest, error) {
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields the updater relies on.
func Validate(m *models.Manifest) error {
	if m.Version == "" {
		return fmt.Errorf("%w: missing version", ErrInvalid)
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrInvalid, m.Version, err)
	}
	if m.Hash == nil || m.Hash.Hash == "" {
		return fmt.Errorf("%w: missing hash tree", ErrInvalid)
	}

	// Hashes become file names in the blob cache.
	stack := []*models.Node{m.Hash}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !hasher.ValidHash(n.Hash) {
			return fmt.Errorf("%w: node %q has malformed hash %q", ErrInvalid, n.Name, n.Hash)
		}
		stack = append(stack, n.Children...)
	}
	return nil
}

// Load fetches and parses the manifest at url.
func Load(ctx context.Context, f fetch.Fetcher, url string) (*models.Manifest, error) {
	rc, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Newer reports whether remote is strictly greater than installed.
func Newer(remote, installed string) (bool, error) {
	rv, err := semver.NewVersion(remote)
	if err != nil {
		return false, fmt.Errorf("parse remote version %q: %w", remote, err)
	}
	iv, err := semver.NewVersion(installed)
	if err != nil {
		return false, fmt.Errorf("parse installed version %q: %w", installed, err)
	}
	return rv.GreaterThan(iv), nil
}

// ResolveBaseURL returns the blob base URL, always ending in "/". A
// configured base wins; otherwise blobs are expected next to the manifest
// under the manifest's targetPath.
func ResolveBaseURL(configured, manifestURL string, m *models.Manifest) string {
	if configured != "" {
		return fetch.NormalizeBase(configured)
	}
	base := fetch.Dir(manifestURL)
	if m != nil && m.TargetPath != "" {
		base += strings.Trim(m.TargetPath, "/")
	}
	return fetch.NormalizeBase(base)
}

// BlobURL is where the compressed blob for hash lives under base.
func BlobURL(base, hash string) string {
	return fetch.NormalizeBase(base) + hash + ".gz"
}

// DiffRecordName is the file name of the diff record for a config name.
func DiffRecordName(configName string) string {
	return configName + ".json"
}

// DiffRecordPath joins the temp directory and the diff record name.
func DiffRecordPath(tempDir, configName string) string {
	return filepath.Join(tempDir, DiffRecordName(configName))
}

// WriteDiffRecord writes ds as JSON to path, replacing any previous record
// in one step.
func WriteDiffRecord(path string, ds *models.DiffSet) error {
	if ds == nil {
		ds = models.NewDiffSet()
	}
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode diff record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create diff record dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create diff record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write diff record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write diff record: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename diff record: %w", err)
	}
	return nil
}

// ReadDiffRecord loads a diff record written by WriteDiffRecord.
func ReadDiffRecord(path string) (*models.DiffSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read diff record: %w", err)
	}
	ds := models.NewDiffSet()
	if err := json.Unmarshal(data, ds); err != nil {
		return nil, fmt.Errorf("decode diff record: %w", err)
	}
	if ds.Added == nil {
		ds.Added = []models.DiffEntry{}
	}
	if ds.Changed == nil {
		ds.Changed = []models.DiffEntry{}
	}
	return ds, nil
}
