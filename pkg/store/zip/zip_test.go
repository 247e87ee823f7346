package zip

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/gridstore/pkg/store"
	"github.com/marmos91/gridstore/pkg/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := NewWithPath(filepath.Join(t.TempDir(), "test.zip"))
		if err != nil {
			t.Fatalf("NewWithPath: %v", err)
		}
		return s
	})
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New with empty path succeeded, want error")
	}

	missing := filepath.Join(t.TempDir(), "missing.zip")
	if _, err := New(Config{Path: missing, Create: false}); err == nil {
		t.Error("New with missing archive and Create=false succeeded, want error")
	}
}

func TestEmptyArchiveCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.zip")
	if _, err := NewWithPath(path); err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}

	// The file on disk is a valid, empty archive immediately.
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	if len(r.File) != 0 {
		t.Errorf("fresh archive holds %d entries, want 0", len(r.File))
	}
}

func TestArchiveSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.zip")
	ctx := context.Background()

	s, err := NewWithPath(path)
	if err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}
	if err := s.Set(ctx, "temps/0.0", []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	again, err := New(Config{Path: path, Create: false})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := again.Get(ctx, "temps/0.0")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get = %q, want %q", got, "payload")
	}
}

func TestDuplicateEntriesLastWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.zip")

	// Build an archive with two entries of the same name by hand, the
	// way an appending writer would leave it.
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w := zip.NewWriter(f)
	for _, v := range []string{"old", "new"} {
		ew, err := w.Create("k")
		if err != nil {
			t.Fatalf("Create entry: %v", err)
		}
		if _, err := ew.Write([]byte(v)); err != nil {
			t.Fatalf("Write entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close file: %v", err)
	}

	s, err := New(Config{Path: path, Create: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get = %q, want the later entry %q", got, "new")
	}

	// Listing reports the key once.
	n := 0
	for _, err := range s.List(ctx, "") {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		n++
	}
	if n != 1 {
		t.Errorf("List yielded %d keys, want 1", n)
	}
}

func TestDeleteMissingSkipsRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip.zip")
	s, err := NewWithPath(path)
	if err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if err := s.Delete(ctx, "ghost"); err != nil {
		t.Fatalf("Delete(missing): %v", err)
	}
	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Error("deleting a missing key rewrote the archive")
	}
}
