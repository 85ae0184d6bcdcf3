package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchDetectsRenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "auth.json")

	changed := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Watch(ctx, target, func() {
		changed <- struct{}{}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// The atomic save path: write a temp file, then rename it into place.
	tmp := filepath.Join(dir, ".auth-tmp.json")
	if err := os.WriteFile(tmp, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, target); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after rename")
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "auth.json")

	changed := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := Watch(ctx, target, func() {
		changed <- struct{}{}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
		t.Fatal("notification for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := Watch(ctx, filepath.Join(t.TempDir(), "nope", "auth.json"), func() {})
	if err == nil {
		t.Error("expected an error for a missing directory")
	}
}
