// file: internal/loader/loader.go
// version: 1.1.0
// guid: 7c9e1a3b-5d7f-4b9d-8f1a-3c5e7a9b1d3f

// Package loader fetches a session's manifest and chunks on demand,
// validates them and keeps them in bounded caches.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jdfalk/exam-results/internal/cache"
	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/fetcher"
	"github.com/jdfalk/exam-results/internal/metrics"
	"github.com/jdfalk/exam-results/internal/models"
	"golang.org/x/sync/singleflight"
)

// DefaultChunkCacheSize is the number of chunks kept per session.
const DefaultChunkCacheSize = 5

// Session is one statically configured dataset variant.
type Session struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Year        int    `json:"year" yaml:"year"`

	// ManifestPath and ChunkPrefix are resource names relative to the
	// data root, e.g. "regular/index.json" and "regular/chunks".
	ManifestPath string `json:"manifest" yaml:"manifest"`
	ChunkPrefix  string `json:"chunk_prefix" yaml:"chunk_prefix"`
	// DatasetPath optionally names a single unchunked file of all records.
	DatasetPath string `json:"dataset,omitempty" yaml:"dataset,omitempty"`
}

// Tag returns the annotation attached to records found in s.
func (s Session) Tag() models.SessionTag {
	return models.SessionTag{Name: s.Name, DisplayName: s.DisplayName, Year: s.Year}
}

// ChunkResource returns the resource name of a chunk file.
func (s Session) ChunkResource(file string) string {
	return path.Join(s.ChunkPrefix, file)
}

// Resources lists the resource name prefixes owned by s. The chunk prefix
// ends in a slash so it never covers a sibling directory.
func (s Session) Resources() []string {
	var out []string
	for _, p := range []string{s.ManifestPath, chunkDir(s.ChunkPrefix), s.DatasetPath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func chunkDir(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// Options tunes a Loader.
type Options struct {
	ChunkCacheSize int
}

// prefixInvalidator and invalidator are implemented by persistent sources
// such as the disk cache.
type prefixInvalidator interface {
	InvalidatePrefix(prefix string) error
}

type invalidator interface {
	Invalidate(name string) error
}

// Loader owns the manifest, chunk and dataset caches of one session.
// It is safe for concurrent use; concurrent requests for the same
// resource share one fetch.
type Loader struct {
	session Session
	src     fetcher.Source
	chunks  *cache.Cache[*models.Chunk]
	group   singleflight.Group

	mu       sync.Mutex
	gen      uint64
	manifest *models.Manifest
	dataset  *models.Dataset
}

// New creates a loader for session reading through src.
func New(session Session, src fetcher.Source, opts Options) *Loader {
	size := opts.ChunkCacheSize
	if size <= 0 {
		size = DefaultChunkCacheSize
	}
	chunks := cache.New[*models.Chunk](size, 0)
	chunks.OnEvict(func(key string, _ *models.Chunk) {
		metrics.IncCacheEviction("chunk")
		log.Printf("[DEBUG] chunk cache: evicted %s", key)
	})
	return &Loader{session: session, src: src, chunks: chunks}
}

// Session returns the loader's session.
func (l *Loader) Session() Session { return l.session }

// CachedChunks returns the chunk cache keys, oldest first.
func (l *Loader) CachedChunks() []string { return l.chunks.Keys() }

func (l *Loader) chunkKey(file string) string {
	return l.session.Name + "/" + file
}

func (l *Loader) generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen
}

// LoadManifest returns the session manifest, fetching and validating it
// on first use. Invalid manifests are never cached.
func (l *Loader) LoadManifest(ctx context.Context) (*models.Manifest, error) {
	l.mu.Lock()
	if m := l.manifest; m != nil {
		l.mu.Unlock()
		metrics.IncCacheHit("manifest")
		return m, nil
	}
	gen := l.gen
	l.mu.Unlock()
	metrics.IncCacheMiss("manifest")

	name := l.session.ManifestPath
	v, err := l.shared(ctx, "manifest", "manifest", name, func(ctx context.Context) (any, error) {
		data, err := l.src.Fetch(fetcher.WithKind(ctx, "manifest"), name)
		if err != nil {
			return nil, l.classify(err, "manifest", name)
		}
		m, err := validateManifest(data)
		if err != nil {
			l.mu.Lock()
			if l.gen == gen {
				l.manifest = nil
			}
			l.mu.Unlock()
			l.discard(name)
			return nil, l.formatErr("manifest", name, err)
		}

		l.mu.Lock()
		if l.gen == gen {
			l.manifest = m
		}
		l.mu.Unlock()
		log.Printf("[INFO] loaded manifest for session %s: %d chunks, %d records",
			l.session.Name, len(m.Chunks), m.Metadata.TotalRecords)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Manifest), nil
}

func validateManifest(data []byte) (*models.Manifest, error) {
	m, err := models.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(m.Chunks) == 0 {
		return nil, errors.New("manifest lists no chunks")
	}
	for i, c := range m.Chunks {
		if c.File == "" {
			return nil, fmt.Errorf("chunk descriptor %d has no file", i)
		}
		if !c.NodeRange.Valid() {
			return nil, fmt.Errorf("chunk descriptor %d (%s) has an invalid id range", i, c.File)
		}
	}

	sort.SliceStable(m.Chunks, func(i, j int) bool {
		return m.Chunks[i].NodeRange.Min.Value < m.Chunks[j].NodeRange.Min.Value
	})
	for i := 1; i < len(m.Chunks); i++ {
		prev, cur := m.Chunks[i-1], m.Chunks[i]
		if cur.NodeRange.Min.Value <= prev.NodeRange.Max.Value {
			return nil, fmt.Errorf("chunks %s and %s have overlapping id ranges", prev.File, cur.File)
		}
	}
	return m, nil
}

// LoadChunk returns the chunk described by desc, from cache when present.
// At most ChunkCacheSize chunks are retained; the oldest inserted goes first.
func (l *Loader) LoadChunk(ctx context.Context, desc models.ChunkDescriptor) (*models.Chunk, error) {
	key := l.chunkKey(desc.File)
	if c, ok := l.chunks.Get(key); ok {
		metrics.IncCacheHit("chunk")
		return c, nil
	}
	metrics.IncCacheMiss("chunk")
	gen := l.generation()

	v, err := l.shared(ctx, "chunk:"+key, "chunk", l.session.ChunkResource(desc.File), func(ctx context.Context) (any, error) {
		if c, ok := l.chunks.Get(key); ok {
			return c, nil
		}
		c, err := l.fetchChunk(ctx, desc)
		if err != nil {
			return nil, err
		}
		if l.generation() == gen {
			l.chunks.Set(key, c)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Chunk), nil
}

func (l *Loader) fetchChunk(ctx context.Context, desc models.ChunkDescriptor) (*models.Chunk, error) {
	name := l.session.ChunkResource(desc.File)
	data, err := l.src.Fetch(fetcher.WithKind(ctx, "chunk"), name)
	if err != nil {
		if dataerr.KindOf(err) == dataerr.KindNotFound {
			e := l.classify(err, "chunk", name).(*dataerr.Error)
			e.Kind = dataerr.KindChunkNotFound
			return nil, e
		}
		return nil, l.classify(err, "chunk", name)
	}

	c, err := models.ParseChunk(desc.File, data)
	if err != nil {
		l.discard(name)
		return nil, l.formatErr("chunk", name, err)
	}
	if len(c.Records) == 0 {
		l.discard(name)
		e := dataerr.New(dataerr.KindEmptyChunk, "chunk", name, errors.New("chunk holds no records"))
		e.Session = l.session.Name
		return nil, e
	}
	if !c.FirstHasID {
		l.discard(name)
		return nil, l.formatErr("chunk", name, errors.New("first record has no identifier"))
	}
	return c, nil
}

// LoadDataset returns every record of the session. It reads the dataset
// resource when one is configured and otherwise concatenates all chunks in
// manifest order without touching the chunk cache. A reload after
// ClearCache yields a new *Dataset.
func (l *Loader) LoadDataset(ctx context.Context) (*models.Dataset, error) {
	l.mu.Lock()
	if d := l.dataset; d != nil {
		l.mu.Unlock()
		metrics.IncCacheHit("dataset")
		return d, nil
	}
	gen := l.gen
	l.mu.Unlock()
	metrics.IncCacheMiss("dataset")

	v, err := l.shared(ctx, "dataset", "dataset", l.session.DatasetPath, func(ctx context.Context) (any, error) {
		records, err := l.readDataset(ctx)
		if err != nil {
			return nil, err
		}
		d := &models.Dataset{Session: l.session.Name, Records: records, LoadedAt: time.Now()}
		l.mu.Lock()
		if l.gen == gen {
			l.dataset = d
		}
		l.mu.Unlock()
		log.Printf("[INFO] loaded full dataset for session %s: %d records", l.session.Name, len(records))
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Dataset), nil
}

func (l *Loader) readDataset(ctx context.Context) ([]models.Record, error) {
	if name := l.session.DatasetPath; name != "" {
		data, err := l.src.Fetch(fetcher.WithKind(ctx, "dataset"), name)
		if err != nil {
			return nil, l.classify(err, "dataset", name)
		}
		records, err := models.ParseRecords(data)
		if err != nil {
			l.discard(name)
			return nil, l.formatErr("dataset", name, err)
		}
		return records, nil
	}

	m, err := l.LoadManifest(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]models.Record, 0, m.Metadata.TotalRecords)
	for _, desc := range m.Chunks {
		c, err := l.fetchChunk(ctx, desc)
		if err != nil {
			return nil, err
		}
		records = append(records, c.Records...)
	}
	return records, nil
}

// ClearCache drops the manifest, chunks and dataset of the session, and
// the persisted copies when the source keeps any.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.gen++
	l.manifest = nil
	l.dataset = nil
	l.mu.Unlock()

	n := l.chunks.InvalidatePrefix(l.session.Name + "/")
	if inv, ok := l.src.(prefixInvalidator); ok {
		for _, prefix := range l.session.Resources() {
			if err := inv.InvalidatePrefix(prefix); err != nil {
				log.Printf("[WARN] failed to clear persisted resources %s: %v", prefix, err)
			}
		}
	}
	log.Printf("[INFO] cleared caches for session %s (%d chunks)", l.session.Name, n)
}

// shared runs fn once for every concurrent caller of key. fn gets a
// context that outlives any single caller; each caller still returns as
// soon as its own ctx is done.
func (l *Loader) shared(ctx context.Context, key, op, resource string, fn func(context.Context) (any, error)) (any, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		return fn(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, l.classify(ctx.Err(), op, resource)
	}
}

// discard drops a rejected payload from a persistent source so the next
// load fetches it again.
func (l *Loader) discard(name string) {
	inv, ok := l.src.(invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(name); err != nil {
		log.Printf("[WARN] failed to discard persisted %s: %v", name, err)
	}
}

// classify tags a source error with the operation and session, treating
// unclassified failures as network errors.
func (l *Loader) classify(err error, op, resource string) error {
	var e *dataerr.Error
	if !errors.As(err, &e) {
		e = dataerr.New(dataerr.KindNetwork, op, resource, err)
	} else {
		cp := *e
		e = &cp
		if e.Kind == dataerr.KindUnknown {
			e.Kind = dataerr.KindNetwork
		}
	}
	e.Op = op
	e.Session = l.session.Name
	if e.Resource == "" {
		e.Resource = resource
	}
	return e
}

func (l *Loader) formatErr(op, resource string, cause error) error {
	e := dataerr.New(dataerr.KindDataFormat, op, resource, cause)
	e.Session = l.session.Name
	return e
}
