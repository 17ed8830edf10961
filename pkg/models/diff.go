package models

// DiffEntry is one file that must be fetched.
type DiffEntry struct {
	FilePath string `json:"filePath"`
	Hash     string `json:"hash"`
}

// DiffSet is the result of comparing a local tree with a remote one.
// Deletions are never recorded.
type DiffSet struct {
	Added   []DiffEntry `json:"added"`
	Changed []DiffEntry `json:"changed"`
}

// NewDiffSet returns an empty diff set whose slices encode as [] rather
// than null.
func NewDiffSet() *DiffSet {
	return &DiffSet{
		Added:   []DiffEntry{},
		Changed: []DiffEntry{},
	}
}

// Len returns the number of entries across both partitions.
func (d *DiffSet) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Added) + len(d.Changed)
}

// Empty reports whether there is nothing to fetch.
func (d *DiffSet) Empty() bool {
	return d.Len() == 0
}

// All returns added entries followed by changed entries.
func (d *DiffSet) All() []DiffEntry {
	if d == nil {
		return nil
	}
	all := make([]DiffEntry, 0, d.Len())
	all = append(all, d.Added...)
	return append(all, d.Changed...)
}

// UniqueHashes returns every distinct blob hash in first-seen order.
// Identical files at different paths share one blob.
func (d *DiffSet) UniqueHashes() []string {
	seen := make(map[string]struct{}, d.Len())
	var hashes []string
	for _, e := range d.All() {
		if _, ok := seen[e.Hash]; ok {
			continue
		}
		seen[e.Hash] = struct{}{}
		hashes = append(hashes, e.Hash)
	}
	return hashes
}
