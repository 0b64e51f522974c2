package canon_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/px-dev/px/internal/canon"
)

func fileEntry(p, content string) canon.Entry {
	return canon.Entry{
		Path: p,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestWriteArchiveDeterministic(t *testing.T) {
	entries := []canon.Entry{
		fileEntry("b/two.txt", "two"),
		fileEntry("a/one.txt", "one"),
		{Path: "a", IsDir: true},
	}

	var buf1, buf2 bytes.Buffer
	if err := canon.WriteArchive(&buf1, entries, 0); err != nil {
		t.Fatal(err)
	}
	// shuffle entry order; output must be identical (sorted internally)
	shuffled := []canon.Entry{entries[2], entries[0], entries[1]}
	if err := canon.WriteArchive(&buf2, shuffled, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Fatalf("expected byte-identical archives regardless of input order")
	}
}

func TestWriteExtractRoundTrip(t *testing.T) {
	entries := []canon.Entry{
		fileEntry("dir/a.txt", "hello"),
		fileEntry("dir/b.txt", "world"),
	}
	var buf bytes.Buffer
	if err := canon.WriteArchive(&buf, entries, 0); err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()
	if err := canon.ExtractArchive(bytes.NewReader(buf.Bytes()), dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "dir", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteArchiveRejectsPathTraversal(t *testing.T) {
	entries := []canon.Entry{fileEntry("../evil.txt", "x")}
	var buf bytes.Buffer
	// bypass WriteArchive's own guard by hand-crafting would require a
	// malicious producer; instead verify WriteArchive itself refuses.
	err := canon.WriteArchive(&buf, entries, 0)
	if err == nil {
		t.Fatal("expected WriteArchive to reject a path escaping the archive root")
	}
}

func TestWriteArchiveRewritesAbsoluteSymlink(t *testing.T) {
	entries := []canon.Entry{
		{Path: "link", LinkTarget: "/etc/passwd"},
	}
	var buf bytes.Buffer
	if err := canon.WriteArchive(&buf, entries, 0); err != nil {
		t.Fatal(err)
	}
	// the absolute target must have been rewritten to stay inside the
	// archive (sys-libs/<basename>), not emitted as an absolute symlink.
	dest := t.TempDir()
	if err := canon.ExtractArchive(bytes.NewReader(buf.Bytes()), dest); err != nil {
		t.Fatal(err)
	}
}
