package blobcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fruitsalade/deltaupdate/pkg/hasher"
)

func putBlob(t *testing.T, c *Cache, content string) string {
	t.Helper()
	h := hasher.HashBytes([]byte(content))
	if err := os.WriteFile(c.Path(h), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestNew_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Dir() != dir {
		t.Errorf("expected dir %s, got %s", dir, c.Dir())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Error("cache directory should exist")
	}
}

func TestHas(t *testing.T) {
	c, _ := New(t.TempDir())
	h := putBlob(t, c, "hello")

	if !c.Has(h) {
		t.Error("expected verified blob to be present")
	}
	if c.Has(hasher.HashBytes([]byte("other"))) {
		t.Error("absent blob reported present")
	}

	// Corrupt the blob in place.
	os.WriteFile(c.Path(h), []byte("tampered"), 0644)
	if c.Has(h) {
		t.Error("corrupted blob must not count as present")
	}
}

func TestMissing_PreservesOrder(t *testing.T) {
	c, _ := New(t.TempDir())
	a := putBlob(t, c, "a")
	b := hasher.HashBytes([]byte("b"))
	d := hasher.HashBytes([]byte("d"))

	got := c.Missing([]string{b, a, d})
	if len(got) != 2 || got[0] != b || got[1] != d {
		t.Errorf("unexpected missing set: %v", got)
	}
}

func TestListAndStats(t *testing.T) {
	c, _ := New(t.TempDir())
	putBlob(t, c, "one")
	putBlob(t, c, "three")
	os.WriteFile(filepath.Join(c.Dir(), "update-config.json"), []byte("{}"), 0644)
	os.WriteFile(filepath.Join(c.Dir(), "abc.123.tmp"), []byte("partial"), 0644)

	entries, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 blobs, got %d", len(entries))
	}

	count, size, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if count != 2 || size != int64(len("one")+len("three")) {
		t.Errorf("unexpected stats: count=%d size=%d", count, size)
	}
}

func TestCleanTemp(t *testing.T) {
	c, _ := New(t.TempDir())
	h := putBlob(t, c, "keep")
	os.WriteFile(filepath.Join(c.Dir(), h+".1.tmp"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(c.Dir(), h+".2.tmp"), []byte("y"), 0644)

	n, err := c.CleanTemp()
	if err != nil {
		t.Fatalf("CleanTemp: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if !c.Has(h) {
		t.Error("CleanTemp removed a real blob")
	}
}

func TestRemove(t *testing.T) {
	c, _ := New(t.TempDir())
	h := putBlob(t, c, "gone")
	if err := c.Remove(h); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Has(h) {
		t.Error("blob still present after Remove")
	}
	if err := c.Remove(h); err != nil {
		t.Errorf("second Remove should be a no-op, got %v", err)
	}
}
