package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"", "tests/login.yml", true},
		{"*", "tests/login.yml", true},
		{"*.yml", "tests/login.yml", true},
		{"*.yml", "tests/login.json", false},
		{"tests/*.yml", "tests/login.yml", true},
		{"tests/*.yml", "other/login.yml", false},
		{"login.yml", filepath.Join("deep", "nested", "login.yml"), true},
	}
	for _, tc := range cases {
		if got := matchesPattern(tc.pattern, tc.path); got != tc.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestNewRequiresPaths(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without paths")
	}
}

func TestNewRejectsMissingPath(t *testing.T) {
	if _, err := New(Options{Paths: []string{filepath.Join(t.TempDir(), "absent")}}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func startWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := New(opts)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func waitForBatch(t *testing.T, w *Watcher) []string {
	t.Helper()
	select {
	case batch := <-w.Changes():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch arrived")
		return nil
	}
}

func TestWatcherCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Options{Paths: []string{dir}, Debounce: 100 * time.Millisecond})

	first := filepath.Join(dir, "one.yml")
	second := filepath.Join(dir, "two.yml")
	if err := os.WriteFile(first, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := os.WriteFile(second, []byte("b: 2\n"), 0o644); err != nil {
		t.Fatalf("write second: %v", err)
	}

	batch := waitForBatch(t, w)
	seen := map[string]bool{}
	for _, p := range batch {
		seen[p] = true
	}
	if !seen[first] || !seen[second] {
		t.Fatalf("expected both files in one batch, got %v", batch)
	}
}

func TestWatcherFiltersByPattern(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Options{
		Paths:    []string{dir},
		Patterns: []string{"*.yml"},
		Debounce: 100 * time.Millisecond,
	})

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}
	match := filepath.Join(dir, "suite.yml")
	if err := os.WriteFile(match, []byte("y"), 0o644); err != nil {
		t.Fatalf("write yml: %v", err)
	}

	batch := waitForBatch(t, w)
	for _, p := range batch {
		if filepath.Ext(p) != ".yml" {
			t.Fatalf("unexpected non-yml path in batch: %v", batch)
		}
	}
}

func TestWatcherSeesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Options{Paths: []string{dir}, Debounce: 100 * time.Millisecond})

	sub := filepath.Join(dir, "more")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Give the watcher a beat to register the new directory before
	// writing into it.
	time.Sleep(200 * time.Millisecond)

	nested := filepath.Join(sub, "extra.yml")
	if err := os.WriteFile(nested, []byte("z"), 0o644); err != nil {
		t.Fatalf("write nested: %v", err)
	}

	batch := waitForBatch(t, w)
	found := false
	for _, p := range batch {
		if p == nested {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nested file in batch, got %v", batch)
	}
}

func TestWatcherWatchesSingleFileParent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "single.yml")
	if err := os.WriteFile(target, []byte("v: 0\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w := startWatcher(t, Options{
		Paths:    []string{target},
		Patterns: []string{"single.yml"},
		Debounce: 100 * time.Millisecond,
	})

	if err := os.WriteFile(target, []byte("v: 1\n"), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	batch := waitForBatch(t, w)
	if len(batch) != 1 || batch[0] != target {
		t.Fatalf("expected only the watched file, got %v", batch)
	}
}
