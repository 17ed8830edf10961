// Package hasher fingerprints files and directory trees with SHA-256.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fruitsalade/deltaupdate/pkg/models"
)

// Options controls which entries are fingerprinted and in what order.
type Options struct {
	// ExcludeFiles are glob patterns matched against file basenames.
	ExcludeFiles []string
	// ExcludeDirs are glob patterns matched against directory basenames.
	ExcludeDirs []string
	// Exclude is an optional predicate consulted after the patterns.
	Exclude func(name string, isDir bool) bool
	// Sorted hashes directory children in name order instead of the raw
	// listing order. Listing order is filesystem dependent, so two copies
	// of the same tree can hash differently on different platforms unless
	// both sides agree to sort.
	Sorted bool
}

// Excluded reports whether an entry with the given basename is skipped.
func (o Options) Excluded(name string, isDir bool) bool {
	patterns := o.ExcludeFiles
	if isDir {
		patterns = o.ExcludeDirs
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return o.Exclude != nil && o.Exclude(name, isDir)
}

// Validate checks that every exclude pattern is well formed.
func (o Options) Validate() error {
	for _, p := range append(append([]string{}, o.ExcludeFiles...), o.ExcludeDirs...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

// HashBytes returns the hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ValidHash reports whether s is a lower-case hex SHA-256 digest.
func ValidHash(s string) bool {
	if len(s) != 2*sha256.Size || strings.ToLower(s) != s {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// HashReader returns the hex SHA-256 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := HashReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

// HashChildren returns a directory hash: the SHA-256 of its children's hex
// digests concatenated in order.
func HashChildren(children []*models.Node) string {
	var b strings.Builder
	for _, c := range children {
		b.WriteString(c.Hash)
	}
	return HashBytes([]byte(b.String()))
}

// frame is one directory being walked.
type frame struct {
	path    string
	node    *models.Node
	entries []string
	next    int
}

// Fingerprint hashes path. Files hash their bytes; directories hash their
// non-excluded children. It returns (nil, nil) when path itself is
// excluded. Any read error aborts the whole walk.
func Fingerprint(path string, opts Options) (*models.Node, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)

	switch {
	case info.Mode().IsRegular():
		return fingerprintFile(path, name, opts)
	case !info.IsDir():
		return nil, nil
	}

	if opts.Excluded(name, true) {
		return nil, nil
	}
	rootFrame, err := openFrame(path, name, opts)
	if err != nil {
		return nil, err
	}

	stack := []*frame{rootFrame}
	for {
		top := stack[len(stack)-1]

		if top.next < len(top.entries) {
			childName := top.entries[top.next]
			top.next++
			childPath := filepath.Join(top.path, childName)

			ci, err := os.Stat(childPath)
			if err != nil {
				return nil, err
			}
			switch {
			case ci.Mode().IsRegular():
				child, err := fingerprintFile(childPath, childName, opts)
				if err != nil {
					return nil, err
				}
				if child != nil {
					top.node.Children = append(top.node.Children, child)
				}
			case ci.IsDir():
				if opts.Excluded(childName, true) {
					continue
				}
				f, err := openFrame(childPath, childName, opts)
				if err != nil {
					return nil, err
				}
				stack = append(stack, f)
			}
			continue
		}

		// All children hashed: seal this directory and hand it to its parent.
		top.node.Hash = HashChildren(top.node.Children)
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return top.node, nil
		}
		parent := stack[len(stack)-1].node
		parent.Children = append(parent.Children, top.node)
	}
}

func fingerprintFile(path, name string, opts Options) (*models.Node, error) {
	if opts.Excluded(name, false) {
		return nil, nil
	}
	sum, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	return models.NewFile(name, sum), nil
}

func openFrame(path, name string, opts Options) (*frame, error) {
	entries, err := listDir(path)
	if err != nil {
		return nil, err
	}
	if opts.Sorted {
		sort.Strings(entries)
	}
	return &frame{
		path:    path,
		node:    models.NewDir(name, ""),
		entries: entries,
	}, nil
}

// listDir returns entry names in the order the filesystem reports them.
// os.ReadDir would sort them.
func listDir(path string) ([]string, error) {
	d, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	return names, nil
}
