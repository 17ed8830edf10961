// Package pack produces an update package: a manifest describing a release
// tree and one gzip blob per distinct file content.
//
// Layout under the output directory:
//
//	<output>/<jsonName>.json
//	<output>/<target><version>/<hash>.gz
package pack

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/fruitsalade/deltaupdate/pkg/hasher"
	"github.com/fruitsalade/deltaupdate/pkg/models"
	"github.com/fruitsalade/deltaupdate/pkg/tree"
)

// Options controls Build.
type Options struct {
	Input    string // release directory to package
	Output   string // where the package is written
	Target   string // blob directory prefix; the version is appended
	Version  string
	JSONName string // manifest file name without extension
	Hasher   hasher.Options
	Level    int // gzip level; zero means gzip.DefaultCompression
}

// Result describes a finished package.
type Result struct {
	Manifest     *models.Manifest
	ManifestPath string
	BlobDir      string
	Blobs        int
}

// Build fingerprints opts.Input and writes the package.
func Build(ctx context.Context, opts Options) (*Result, error) {
	if opts.Input == "" || opts.Output == "" {
		return nil, errors.New("input and output are required")
	}
	if opts.Version == "" {
		return nil, errors.New("version is required")
	}
	if opts.JSONName == "" {
		opts.JSONName = "update"
	}
	if opts.Level == 0 {
		opts.Level = gzip.DefaultCompression
	}

	root, err := hasher.Fingerprint(opts.Input, opts.Hasher)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", opts.Input, err)
	}
	if root == nil || !root.IsDir() {
		return nil, fmt.Errorf("%s is not a packageable directory", opts.Input)
	}

	targetPath := opts.Target + opts.Version
	blobDir := filepath.Join(opts.Output, targetPath)
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	written := make(map[string]bool)
	for _, leaf := range tree.Leaves(root, tree.RootPath) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if written[leaf.Hash] {
			continue
		}
		src := filepath.Join(opts.Input, filepath.FromSlash(strings.TrimPrefix(leaf.FilePath, "./")))
		dst := filepath.Join(blobDir, leaf.Hash+".gz")
		if err := compressFile(src, dst, leaf.Hash, opts.Level); err != nil {
			return nil, err
		}
		written[leaf.Hash] = true
	}

	m := &models.Manifest{
		Version:    opts.Version,
		Hash:       root,
		TargetPath: targetPath,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	manifestPath := filepath.Join(opts.Output, opts.JSONName+".json")
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	return &Result{
		Manifest:     m,
		ManifestPath: manifestPath,
		BlobDir:      blobDir,
		Blobs:        len(written),
	}, nil
}

// compressFile gzips src to dst and checks that the bytes compressed are
// the bytes that were fingerprinted.
func compressFile(src, dst, wantHash string, level int) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw, err := gzip.NewWriterLevel(tmp, level)
	if err != nil {
		return fmt.Errorf("gzip writer: %w", err)
	}
	h := sha256.New()
	if _, err := io.Copy(zw, io.TeeReader(in, h)); err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != wantHash {
		return fmt.Errorf("%s changed while packaging", src)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
