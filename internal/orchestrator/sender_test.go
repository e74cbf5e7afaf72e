package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/catshare/engine/internal/transfer"
)

func TestStatFilesPopulatesSourcesFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	sources, err := statFiles([]string{path})
	if err != nil {
		t.Fatalf("statFiles: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}
	if sources[0].Name != "report.pdf" {
		t.Errorf("Name = %q, want %q", sources[0].Name, "report.pdf")
	}
	if sources[0].Size != int64(len("hello world")) {
		t.Errorf("Size = %d, want %d", sources[0].Size, len("hello world"))
	}

	rc, err := sources[0].Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	buf := make([]byte, 32)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "hello world" {
		t.Errorf("read %q, want %q", buf[:n], "hello world")
	}
}

func TestStatFilesErrorsOnMissingFile(t *testing.T) {
	if _, err := statFiles([]string{"/nonexistent/path/does-not-exist"}); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestCheckEntryNamesRejectsPathSeparators(t *testing.T) {
	files := []transfer.FileSource{{Name: "../escape.txt"}}
	if err := checkEntryNames(files); err == nil {
		t.Fatal("expected rejection of a file entry containing a path separator")
	}
}

func TestCheckEntryNamesAcceptsPlainNames(t *testing.T) {
	files := []transfer.FileSource{{Name: "photo.jpg"}, {Name: "notes.txt"}}
	if err := checkEntryNames(files); err != nil {
		t.Fatalf("checkEntryNames: %v", err)
	}
}

func TestPackageTypeSingleVsMulti(t *testing.T) {
	if got := packageType([]transfer.FileSource{{Name: "a"}}); got != "single" {
		t.Errorf("packageType(1 file) = %q, want %q", got, "single")
	}
	if got := packageType([]transfer.FileSource{{Name: "a"}, {Name: "b"}}); got != "multi" {
		t.Errorf("packageType(2 files) = %q, want %q", got, "multi")
	}
}

func TestBuildSenderBackendsAlwaysIncludesWpaCliFallback(t *testing.T) {
	backends := buildSenderBackends()
	if len(backends) == 0 {
		t.Fatal("expected at least the wpa_cli fallback backend")
	}
}
