// file: internal/testutil/integration.go
// version: 2.1.0
// guid: a1b2c3d4-e5f6-7890-abcd-ef1234567890

package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteTree writes files below dir and returns dir.
func WriteTree(t testing.TB, dir string, files Files) string {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, data, 0644))
	}
	return dir
}

// DataServer is a static JSON host backed by Files.
type DataServer struct {
	*httptest.Server

	mu     sync.Mutex
	files  Files
	status map[string]int
	hits   map[string]int
}

// NewDataServer starts a static host. Requests for unknown paths get 404.
// The server is closed when the test ends.
func NewDataServer(t testing.TB, files Files) *DataServer {
	t.Helper()
	ds := &DataServer{files: files, status: map[string]int{}, hits: map[string]int{}}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		ds.mu.Lock()
		ds.hits[name]++
		status, forced := ds.status[name]
		data, ok := ds.files[name]
		ds.mu.Unlock()

		if forced {
			w.WriteHeader(status)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	t.Cleanup(ds.Close)
	return ds
}

// ForceStatus makes every request for name answer with status; 0 clears it.
func (ds *DataServer) ForceStatus(name string, status int) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if status == 0 {
		delete(ds.status, name)
		return
	}
	ds.status[name] = status
}

// Hits returns how many requests name received.
func (ds *DataServer) Hits(name string) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.hits[name]
}
