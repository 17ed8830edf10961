package hasher

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fruitsalade/deltaupdate/pkg/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func buildTree(t *testing.T, root string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "app.bin"), "binary v1")
	writeFile(t, filepath.Join(root, "resources", "app.asar"), "asar")
	writeFile(t, filepath.Join(root, "resources", "locales", "en.pak"), "en")
	writeFile(t, filepath.Join(root, "notes.log"), "log line")
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), "module.exports = 1")
}

func TestHashBytes_Known(t *testing.T) {
	// sha256("")
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashBytes(nil); got != want {
		t.Errorf("HashBytes(nil) = %s, want %s", got, want)
	}
}

func TestValidHash(t *testing.T) {
	good := HashBytes([]byte("x"))
	if !ValidHash(good) {
		t.Errorf("ValidHash(%q) = false", good)
	}
	for _, bad := range []string{"", "../etc/passwd", strings.ToUpper(good), good[:63], good + "0", strings.Repeat("g", 64)} {
		if ValidHash(bad) {
			t.Errorf("ValidHash(%q) = true", bad)
		}
	}
}

func TestFingerprint_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello world")

	node, err := Fingerprint(path, Options{})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if node.IsDir() {
		t.Fatal("file fingerprinted as a directory")
	}
	if node.Name != "a.txt" {
		t.Errorf("name = %q, want a.txt", node.Name)
	}
	if node.Hash != HashBytes([]byte("hello world")) {
		t.Errorf("hash mismatch: %s", node.Hash)
	}

	again, err := Fingerprint(path, Options{})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if again.Hash != node.Hash {
		t.Error("hashing the same file twice gave different results")
	}
}

func TestFingerprint_DirHashIsHashOfChildren(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	node, err := Fingerprint(root, Options{Sorted: true})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if !node.IsDir() {
		t.Fatal("expected a directory")
	}
	if node.Hash != HashChildren(node.Children) {
		t.Error("directory hash is not the hash of its children's hashes")
	}
	res := node.Child("resources")
	if res == nil || !res.IsDir() {
		t.Fatalf("resources missing: %+v", res)
	}
	if res.Hash != HashChildren(res.Children) {
		t.Error("nested directory hash mismatch")
	}
}

func TestFingerprint_IdenticalTreesMatch(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	buildTree(t, a)
	buildTree(t, b)

	na, err := Fingerprint(a, Options{Sorted: true})
	if err != nil {
		t.Fatalf("Fingerprint a: %v", err)
	}
	nb, err := Fingerprint(b, Options{Sorted: true})
	if err != nil {
		t.Fatalf("Fingerprint b: %v", err)
	}
	if na.Hash != nb.Hash {
		t.Errorf("identical trees hashed differently: %s vs %s", na.Hash, nb.Hash)
	}
}

func TestFingerprint_Excludes(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	opts := Options{
		ExcludeFiles: []string{"*.log"},
		ExcludeDirs:  []string{"node_modules"},
		Sorted:       true,
	}
	node, err := Fingerprint(root, opts)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if node.Child("notes.log") != nil {
		t.Error("*.log file should be excluded")
	}
	if node.Child("node_modules") != nil {
		t.Error("node_modules should be excluded")
	}
	if node.Child("app.bin") == nil {
		t.Error("app.bin should be kept")
	}

	// Excluded entries do not contribute to the parent hash.
	os.RemoveAll(filepath.Join(root, "node_modules"))
	os.Remove(filepath.Join(root, "notes.log"))
	bare, err := Fingerprint(root, Options{Sorted: true})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if bare.Hash != node.Hash {
		t.Error("excluded entries leaked into the directory hash")
	}
}

func TestFingerprint_ExcludedRootIsNil(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "skip.tmp")
	writeFile(t, file, "x")

	node, err := Fingerprint(file, Options{ExcludeFiles: []string{"*.tmp"}})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if node != nil {
		t.Errorf("expected nil for excluded file, got %+v", node)
	}

	sub := filepath.Join(dir, "cache")
	writeFile(t, filepath.Join(sub, "a"), "a")
	node, err = Fingerprint(sub, Options{ExcludeDirs: []string{"cache"}})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if node != nil {
		t.Errorf("expected nil for excluded dir, got %+v", node)
	}
}

func TestFingerprint_PredicateExclude(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	opts := Options{
		Exclude: func(name string, isDir bool) bool { return isDir && name == "resources" },
	}
	node, err := Fingerprint(root, opts)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if node.Child("resources") != nil {
		t.Error("predicate should exclude resources")
	}
}

func TestFingerprint_EmptyDir(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatal(err)
	}
	node, err := Fingerprint(root, Options{})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	empty := node.Child("empty")
	if empty == nil || !empty.IsDir() || len(empty.Children) != 0 {
		t.Fatalf("empty dir not fingerprinted as an empty directory: %+v", empty)
	}
	if empty.Hash != HashBytes(nil) {
		t.Errorf("empty dir hash = %s, want hash of empty input", empty.Hash)
	}
}

func TestFingerprint_MissingPath(t *testing.T) {
	if _, err := Fingerprint(filepath.Join(t.TempDir(), "nope"), Options{}); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestFingerprint_UnreadableFileFails(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	root := t.TempDir()
	locked := filepath.Join(root, "locked.bin")
	writeFile(t, locked, "secret")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(locked, 0644)

	if _, err := Fingerprint(root, Options{}); err == nil {
		t.Error("expected the walk to fail on an unreadable file")
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := (Options{ExcludeFiles: []string{"*.js", "**/*.map"}}).Validate(); err != nil {
		t.Errorf("valid patterns rejected: %v", err)
	}
	if err := (Options{ExcludeDirs: []string{"[unclosed"}}).Validate(); err == nil {
		t.Error("expected invalid pattern error")
	}
}

func TestHashChildren_OrderMatters(t *testing.T) {
	a := models.NewFile("a", "aa")
	b := models.NewFile("b", "bb")
	if HashChildren([]*models.Node{a, b}) == HashChildren([]*models.Node{b, a}) {
		t.Error("child order should affect the directory hash")
	}
}
