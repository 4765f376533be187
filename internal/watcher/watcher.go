// file: internal/watcher/watcher.go
// version: 3.0.0
// guid: b2c3d4e5-f6a7-8901-bcde-f23456789012

package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the default debounce period.
const DefaultDebounce = 2 * time.Second

// Callback is invoked after the debounce period with the changed files,
// relative to the watched root, slash-separated and sorted.
type Callback func(changed []string)

// Watcher monitors a data directory for JSON resource changes and invokes
// a callback once events settle.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	rootDir   string
	debounce  time.Duration
	callback  Callback
	stop      chan struct{}
	stopped   chan struct{}
	mu        sync.Mutex
	timer     *time.Timer
	pending   map[string]bool
	running   bool
}

// New creates a Watcher. Pass 0 for debounce to use DefaultDebounce.
func New(callback Callback, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		debounce: debounce,
		callback: callback,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		pending:  make(map[string]bool),
	}
}

// Start begins watching rootDir recursively. It is safe to call only once.
func (w *Watcher) Start(rootDir string) error {
	info, err := os.Stat(rootDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", rootDir)
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	w.fsWatcher = fsw
	w.rootDir = filepath.Clean(rootDir)

	if err := w.addRecursive(w.rootDir); err != nil {
		fsw.Close()
		return err
	}

	go w.eventLoop()
	log.Printf("[INFO] watcher: watching %s", w.rootDir)
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
// Pending callbacks are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if d.IsDir() {
			if watchErr := w.fsWatcher.Add(path); watchErr != nil {
				log.Printf("[WARN] watcher: cannot watch %s: %v", path, watchErr)
			}
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[ERROR] watcher: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}

	relevant := event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0
	if !relevant || !IsDataFile(event.Name) {
		return
	}

	rel, err := filepath.Rel(w.rootDir, event.Name)
	if err != nil {
		return
	}
	w.schedule(filepath.ToSlash(rel))
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[name] = true
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		changed := make([]string, 0, len(w.pending))
		for name := range w.pending {
			changed = append(changed, name)
		}
		w.pending = make(map[string]bool)
		w.mu.Unlock()

		sort.Strings(changed)
		log.Printf("[INFO] watcher: %d data files changed under %s", len(changed), w.rootDir)
		if w.callback != nil {
			w.callback(changed)
		}
	})
}

// IsDataFile reports whether name is a JSON resource.
func IsDataFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}

// Owners returns, sorted, the names whose prefix list matches at least one
// changed path.
func Owners(changed []string, prefixes map[string][]string) []string {
	var out []string
	for name, list := range prefixes {
	match:
		for _, p := range list {
			for _, c := range changed {
				if c == p || strings.HasPrefix(c, strings.TrimSuffix(p, "/")+"/") {
					out = append(out, name)
					break match
				}
			}
		}
	}
	sort.Strings(out)
	return out
}
