// file: internal/testutil/dataset.go
// version: 2.0.0
// guid: b2c3d4e5-f6a7-8901-bcde-f23456789012

// Package testutil builds in-memory exam datasets and fake data hosts for
// tests across packages.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/models"
	"github.com/stretchr/testify/require"
)

// Files maps resource names to payloads.
type Files map[string][]byte

// Merge copies every entry of other into f.
func (f Files) Merge(other Files) Files {
	for k, v := range other {
		f[k] = v
	}
	return f
}

// Student returns a raw record in the upstream field naming.
func Student(id int64, nameAr, nameFr string) map[string]any {
	return map[string]any{
		"NODOSS":   id,
		"NOM_AR":   nameAr,
		"NOM_FR":   nameFr,
		"SERIE":    "SN",
		"Decision": "Admis",
		"Moy Bac":  12.5,
		"Wilaya":   "Nouakchott",
	}
}

// Range returns raw records with ids from..to inclusive.
func Range(from, to int64) []map[string]any {
	out := make([]map[string]any, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, Student(id, fmt.Sprintf("طالب %d", id), fmt.Sprintf("student %d", id)))
	}
	return out
}

// ManifestPath and ChunkPrefix give the conventional layout of a session.
func ManifestPath(session string) string { return session + "/index.json" }
func ChunkPrefix(session string) string  { return session + "/chunks" }
func DatasetPath(session string) string  { return session + "/all.json" }

// ChunkFile returns the conventional chunk file name.
func ChunkFile(i int) string { return fmt.Sprintf("chunk-%03d.json", i) }

// BuildSession lays out one session: a manifest plus one chunk resource per
// group. Ranges are taken from the first and last id of each group.
func BuildSession(t testing.TB, session string, groups ...[]map[string]any) Files {
	t.Helper()
	files := Files{}
	m := models.Manifest{
		Metadata: models.ManifestMetadata{
			TotalChunks: len(groups),
			CreatedAt:   time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
			Version:     "test",
			Session:     session,
		},
	}
	total := 0
	for i, group := range groups {
		ids := make([]int64, 0, len(group))
		for _, s := range group {
			if id, ok := s["NODOSS"].(int64); ok {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		var r models.IDRange
		if len(ids) > 0 {
			r = models.IDRange{Min: models.ID(ids[0]), Max: models.ID(ids[len(ids)-1])}
		}
		desc := models.ChunkDescriptor{Index: i, File: ChunkFile(i), RecordCount: len(group), NodeRange: r}
		m.Chunks = append(m.Chunks, desc)

		files[ChunkPrefix(session)+"/"+desc.File] = MustJSON(t, map[string]any{
			"metadata": models.ChunkMetadata{
				ChunkIndex:  i,
				TotalChunks: len(groups),
				StartIndex:  total,
				EndIndex:    total + len(group) - 1,
				RecordCount: len(group),
				NodeRange:   r,
			},
			"students": group,
		})
		total += len(group)
	}
	m.Metadata.TotalRecords = total
	if len(groups) > 0 {
		m.Metadata.ChunkSize = len(groups[0])
	}
	files[ManifestPath(session)] = MustJSON(t, m)
	return files
}

// MustJSON marshals v or fails the test.
func MustJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// MemSource serves Files and records every fetch. Missing names fail with
// a not-found error the way a static host would.
type MemSource struct {
	mu    sync.Mutex
	files Files
	errs  map[string]error
	calls map[string]int
	order []string
	delay time.Duration
	hook  func(name string)
}

// NewMemSource creates a source over files.
func NewMemSource(files Files) *MemSource {
	return &MemSource{files: files, errs: map[string]error{}, calls: map[string]int{}}
}

// Fetch implements fetcher.Source.
func (s *MemSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	s.calls[name]++
	s.order = append(s.order, name)
	data, ok := s.files[name]
	err := s.errs[name]
	delay, hook := s.delay, s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(name)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, dataerr.New(dataerr.KindNetwork, "", name, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		e := dataerr.New(dataerr.KindNotFound, "", name, fmt.Errorf("%s not found", name))
		e.Status = 404
		return nil, e
	}
	return append([]byte(nil), data...), nil
}

// Put replaces a resource.
func (s *MemSource) Put(name string, data []byte) {
	s.mu.Lock()
	s.files[name] = data
	s.mu.Unlock()
}

// Remove deletes a resource.
func (s *MemSource) Remove(name string) {
	s.mu.Lock()
	delete(s.files, name)
	s.mu.Unlock()
}

// FailWith makes every fetch of name return err; nil clears it.
func (s *MemSource) FailWith(name string, err error) {
	s.mu.Lock()
	if err == nil {
		delete(s.errs, name)
	} else {
		s.errs[name] = err
	}
	s.mu.Unlock()
}

// SetDelay slows every fetch down by d.
func (s *MemSource) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// OnFetch registers a callback run at the start of every fetch.
func (s *MemSource) OnFetch(fn func(name string)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

// Calls returns how many times name was fetched.
func (s *MemSource) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Fetched returns every fetched name in order.
func (s *MemSource) Fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Reset forgets recorded fetches.
func (s *MemSource) Reset() {
	s.mu.Lock()
	s.calls = map[string]int{}
	s.order = nil
	s.mu.Unlock()
}
