// file: internal/watcher/watcher_test.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7890-abcd-ef1234567890

package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsDataFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"index.json", true},
		{"chunk-001.JSON", true},
		{"regular/chunks/chunk-000.json", true},
		{"notes.txt", false},
		{"index.json.tmp", false},
		{"json", false},
	}
	for _, tt := range tests {
		if got := IsDataFile(tt.name); got != tt.want {
			t.Errorf("IsDataFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOwners(t *testing.T) {
	prefixes := map[string][]string{
		"regular":       {"regular/index.json", "regular/chunks"},
		"complementary": {"complementary/index.json", "complementary/chunks/"},
	}
	assert.Equal(t, []string{"regular"}, Owners([]string{"regular/chunks/chunk-003.json"}, prefixes))
	assert.Equal(t, []string{"complementary", "regular"},
		Owners([]string{"complementary/index.json", "regular/index.json"}, prefixes))
	assert.Empty(t, Owners([]string{"regular/chunks-old/x.json", "other.json"}, prefixes))
}

func TestDebounceSingleEvent(t *testing.T) {
	dir := t.TempDir()

	var calls atomic.Int32
	w := New(func([]string) {
		calls.Add(1)
	}, 100*time.Millisecond)

	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)

	if c := calls.Load(); c != 1 {
		t.Errorf("expected 1 callback, got %d", c)
	}
}

func TestDebounceMultipleEvents(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var batches [][]string
	w := New(func(changed []string) {
		mu.Lock()
		batches = append(batches, changed)
		mu.Unlock()
	}, 200*time.Millisecond)

	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Rapid-fire writes within the debounce window.
	for i := 0; i < 5; i++ {
		f := filepath.Join(dir, "chunk-00"+string(rune('0'+i))+".json")
		_ = os.WriteFile(f, []byte("{}"), 0644)
		time.Sleep(30 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("expected exactly 1 debounced callback, got %d", len(batches))
	}
	assert.Equal(t, []string{"chunk-000.json", "chunk-001.json", "chunk-002.json", "chunk-003.json", "chunk-004.json"}, batches[0])
}

func TestNonDataFilesIgnored(t *testing.T) {
	dir := t.TempDir()

	var calls atomic.Int32
	w := New(func([]string) {
		calls.Add(1)
	}, 100*time.Millisecond)

	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	_ = os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0644)
	_ = os.WriteFile(filepath.Join(dir, "backup.json.bak"), []byte("{}"), 0644)

	time.Sleep(300 * time.Millisecond)

	if c := calls.Load(); c != 0 {
		t.Errorf("expected 0 callbacks for non-data files, got %d", c)
	}
}

func TestRecursiveWatching(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "regular", "chunks")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	got := make(chan []string, 1)
	w := New(func(changed []string) { got <- changed }, 100*time.Millisecond)

	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	_ = os.WriteFile(filepath.Join(subdir, "chunk-000.json"), []byte("{}"), 0644)

	select {
	case changed := <-got:
		assert.Equal(t, []string{"regular/chunks/chunk-000.json"}, changed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a callback for the nested file")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := New(func([]string) {}, 100*time.Millisecond)
	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop() // should not panic
}

func TestStartIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := New(func([]string) {}, 100*time.Millisecond)
	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteTriggers(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "index.json")
	_ = os.WriteFile(f, []byte("{}"), 0644)

	var mu sync.Mutex
	var called bool
	w := New(func([]string) {
		mu.Lock()
		called = true
		mu.Unlock()
	}, 100*time.Millisecond)

	if err := w.Start(dir); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)

	_ = os.Remove(f)
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Error("expected callback on file deletion")
	}
}

func TestStartRejectsMissingDir(t *testing.T) {
	w := New(func([]string) {}, 0)
	assert.Error(t, w.Start(filepath.Join(t.TempDir(), "missing")))

	file := filepath.Join(t.TempDir(), "index.json")
	assert.NoError(t, os.WriteFile(file, []byte("{}"), 0644))
	assert.Error(t, w.Start(file))
	w.Stop() // never started
}
