// file: internal/loader/loader_test.go
// version: 1.2.0
// guid: 9e1a3b5d-7f9b-4d1f-a3b5-d7f9b1d3f5a7

package loader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/diskcache"
	"github.com/jdfalk/exam-results/internal/fetcher"
	"github.com/jdfalk/exam-results/internal/models"
	"github.com/jdfalk/exam-results/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regular() Session {
	return Session{
		Name:         "regular",
		DisplayName:  "Baccalauréat 2025",
		Year:         2025,
		ManifestPath: testutil.ManifestPath("regular"),
		ChunkPrefix:  testutil.ChunkPrefix("regular"),
	}
}

func twoChunks(t *testing.T) testutil.Files {
	return testutil.BuildSession(t, "regular", testutil.Range(1, 10), testutil.Range(11, 20))
}

func TestLoadManifest_CachedAfterFirstFetch(t *testing.T) {
	src := testutil.NewMemSource(twoChunks(t))
	l := New(regular(), src, Options{})

	m1, err := l.LoadManifest(context.Background())
	require.NoError(t, err)
	m2, err := l.LoadManifest(context.Background())
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Len(t, m1.Chunks, 2)
	assert.Equal(t, 1, src.Calls("regular/index.json"))
}

func TestLoadManifest_SortsDescriptors(t *testing.T) {
	files := twoChunks(t)
	m, err := models.ParseManifest(files["regular/index.json"])
	require.NoError(t, err)
	m.Chunks[0], m.Chunks[1] = m.Chunks[1], m.Chunks[0]
	files["regular/index.json"] = testutil.MustJSON(t, m)

	l := New(regular(), testutil.NewMemSource(files), Options{})
	got, err := l.LoadManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Chunks[0].NodeRange.Min.Value)
	assert.Equal(t, int64(11), got.Chunks[1].NodeRange.Min.Value)
}

func TestLoadManifest_Validation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"not json", `{"chunks":`},
		{"no chunks", `{"metadata":{},"chunks":[]}`},
		{"missing chunks", `{"metadata":{}}`},
		{"missing file", `{"chunks":[{"index":0,"nodeRange":{"min":1,"max":5}}]}`},
		{"missing max", `{"chunks":[{"index":0,"file":"a.json","nodeRange":{"min":1}}]}`},
		{"min above max", `{"chunks":[{"index":0,"file":"a.json","nodeRange":{"min":9,"max":5}}]}`},
		{"overlap", `{"chunks":[{"file":"a.json","nodeRange":{"min":1,"max":10}},{"file":"b.json","nodeRange":{"min":10,"max":20}}]}`},
		{"bad id", `{"chunks":[{"file":"a.json","nodeRange":{"min":"x","max":5}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.NewMemSource(testutil.Files{"regular/index.json": []byte(tt.manifest)})
			l := New(regular(), src, Options{})

			_, err := l.LoadManifest(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, dataerr.ErrDataFormat)
			assert.Equal(t, "regular", err.(*dataerr.Error).Session)

			// nothing was cached, so the next call fetches again
			_, _ = l.LoadManifest(context.Background())
			assert.Equal(t, 2, src.Calls("regular/index.json"))
		})
	}
}

func TestLoadManifest_StringRanges(t *testing.T) {
	src := testutil.NewMemSource(testutil.Files{
		"regular/index.json": []byte(`{"metadata":{"totalRecords":3},"chunks":[{"index":0,"file":"chunk-000.json","recordCount":3,"nodeRange":{"min":"100","max":"102"}}]}`),
	})
	l := New(regular(), src, Options{})
	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Chunks[0].NodeRange.Contains(101))
}

func TestLoadManifest_NotFound(t *testing.T) {
	l := New(regular(), testutil.NewMemSource(testutil.Files{}), Options{})
	_, err := l.LoadManifest(context.Background())
	assert.ErrorIs(t, err, dataerr.ErrNotFound)
}

func TestLoadChunk_FetchesOnce(t *testing.T) {
	src := testutil.NewMemSource(twoChunks(t))
	l := New(regular(), src, Options{})
	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)

	c1, err := l.LoadChunk(context.Background(), m.Chunks[1])
	require.NoError(t, err)
	c2, err := l.LoadChunk(context.Background(), m.Chunks[1])
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, src.Calls("regular/chunks/chunk-001.json"))
	assert.Len(t, c1.Records, 10)
	assert.Equal(t, int64(11), c1.Records[0].ID)
}

func TestLoadChunk_ConcurrentCallsShareFetch(t *testing.T) {
	src := testutil.NewMemSource(twoChunks(t))
	src.SetDelay(20 * time.Millisecond)
	l := New(regular(), src, Options{})
	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.LoadChunk(context.Background(), m.Chunks[0])
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, src.Calls("regular/chunks/chunk-000.json"))
}

func TestLoadChunk_CanceledCallerLeavesSharedFetch(t *testing.T) {
	src := testutil.NewMemSource(twoChunks(t))
	l := New(regular(), src, Options{})
	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)

	started := make(chan struct{}, 1)
	src.OnFetch(func(string) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	src.SetDelay(150 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := l.LoadChunk(ctx, m.Chunks[0])
		first <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := l.LoadChunk(context.Background(), m.Chunks[0])
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err = <-first
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, dataerr.ErrNetwork)
	assert.NoError(t, <-second)
	assert.Equal(t, 1, src.Calls("regular/chunks/chunk-000.json"))
	assert.Equal(t, []string{"regular/chunk-000.json"}, l.CachedChunks())
}

func TestLoadChunk_CacheBound(t *testing.T) {
	var groups [][]map[string]any
	for i := int64(0); i < 8; i++ {
		groups = append(groups, testutil.Range(i*10+1, i*10+10))
	}
	src := testutil.NewMemSource(testutil.BuildSession(t, "regular", groups...))
	l := New(regular(), src, Options{ChunkCacheSize: 5})
	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)

	for _, desc := range m.Chunks {
		_, err := l.LoadChunk(context.Background(), desc)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(l.CachedChunks()), 5)
	}

	want := []string{}
	for i := 3; i < 8; i++ {
		want = append(want, "regular/"+testutil.ChunkFile(i))
	}
	assert.Equal(t, want, l.CachedChunks())

	// an evicted chunk is fetched again
	_, err = l.LoadChunk(context.Background(), m.Chunks[0])
	require.NoError(t, err)
	assert.Equal(t, 2, src.Calls("regular/chunks/chunk-000.json"))
}

func TestLoadChunk_NotFoundOverHTTP(t *testing.T) {
	files := twoChunks(t)
	delete(files, "regular/chunks/chunk-001.json")
	srv := testutil.NewDataServer(t, files)

	httpSrc, err := fetcher.NewHTTPSource(srv.URL, fetcher.HTTPOptions{Timeout: time.Second})
	require.NoError(t, err)
	src := fetcher.WithRetry(httpSrc, fetcher.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})
	l := New(regular(), src, Options{})

	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)
	_, err = l.LoadChunk(context.Background(), m.Chunks[1])

	require.Error(t, err)
	assert.ErrorIs(t, err, dataerr.ErrChunkNotFound)
	assert.Equal(t, 1, srv.Hits("regular/chunks/chunk-001.json"))
	assert.Empty(t, l.CachedChunks())
}

func TestLoadChunk_RetriesServerErrors(t *testing.T) {
	srv := testutil.NewDataServer(t, twoChunks(t))
	srv.ForceStatus("regular/chunks/chunk-000.json", 503)

	httpSrc, err := fetcher.NewHTTPSource(srv.URL, fetcher.HTTPOptions{Timeout: time.Second})
	require.NoError(t, err)
	l := New(regular(), fetcher.WithRetry(httpSrc, fetcher.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}), Options{})

	m, err := l.LoadManifest(context.Background())
	require.NoError(t, err)
	_, err = l.LoadChunk(context.Background(), m.Chunks[0])
	assert.ErrorIs(t, err, dataerr.ErrServer)
	assert.Equal(t, 3, srv.Hits("regular/chunks/chunk-000.json"))
	assert.Empty(t, l.CachedChunks())
}

func TestLoadChunk_Validation(t *testing.T) {
	desc := models.ChunkDescriptor{File: "chunk-000.json", NodeRange: models.IDRange{Min: models.ID(1), Max: models.ID(5)}}
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty list", `{"metadata":{},"students":[]}`, dataerr.ErrEmptyChunk},
		{"no list", `{"metadata":{}}`, dataerr.ErrDataFormat},
		{"first without id", `{"students":[{"NOM_FR":"x"},{"NODOSS":2}]}`, dataerr.ErrDataFormat},
		{"garbage", `<html>`, dataerr.ErrDataFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.NewMemSource(testutil.Files{"regular/chunks/chunk-000.json": []byte(tt.payload)})
			l := New(regular(), src, Options{})
			_, err := l.LoadChunk(context.Background(), desc)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, l.CachedChunks())
		})
	}
}

func TestLoadManifest_RejectedPayloadIsNotPersisted(t *testing.T) {
	src := testutil.NewMemSource(testutil.Files{"regular/index.json": []byte(`{"chunks":[]}`)})
	disk, err := diskcache.Open(t.TempDir(), src, 24*time.Hour)
	require.NoError(t, err)
	defer disk.Close()
	l := New(regular(), disk, Options{})
	ctx := context.Background()

	_, err = l.LoadManifest(ctx)
	assert.ErrorIs(t, err, dataerr.ErrDataFormat)

	src.Put("regular/index.json", twoChunks(t)["regular/index.json"])
	m, err := l.LoadManifest(ctx)
	require.NoError(t, err)
	assert.Len(t, m.Chunks, 2)
	assert.Equal(t, 2, src.Calls("regular/index.json"))
}

func TestLoadChunk_RejectedPayloadIsNotPersisted(t *testing.T) {
	files := twoChunks(t)
	good := files["regular/chunks/chunk-000.json"]
	src := testutil.NewMemSource(testutil.Files{"regular/chunks/chunk-000.json": []byte(`{"metadata":{},"students":[]}`)})
	disk, err := diskcache.Open(t.TempDir(), src, 24*time.Hour)
	require.NoError(t, err)
	defer disk.Close()
	l := New(regular(), disk, Options{})
	desc := models.ChunkDescriptor{File: "chunk-000.json", NodeRange: models.IDRange{Min: models.ID(1), Max: models.ID(10)}}

	_, err = l.LoadChunk(context.Background(), desc)
	assert.ErrorIs(t, err, dataerr.ErrEmptyChunk)

	src.Put("regular/chunks/chunk-000.json", good)
	c, err := l.LoadChunk(context.Background(), desc)
	require.NoError(t, err)
	assert.Len(t, c.Records, 10)
	assert.Equal(t, 2, src.Calls("regular/chunks/chunk-000.json"))
}

func TestLoadChunk_TextualIDs(t *testing.T) {
	src := testutil.NewMemSource(testutil.Files{
		"regular/chunks/chunk-000.json": []byte(`{"students":[{"NODOSS":"7","NOM_FR":"a"},{"NODOSS":"8","NOM_FR":"b"}]}`),
	})
	l := New(regular(), src, Options{})
	c, err := l.LoadChunk(context.Background(), models.ChunkDescriptor{File: "chunk-000.json"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.Records[1].ID)
}

func TestLoadDataset_FromChunks(t *testing.T) {
	src := testutil.NewMemSource(twoChunks(t))
	l := New(regular(), src, Options{})

	d1, err := l.LoadDataset(context.Background())
	require.NoError(t, err)
	assert.Len(t, d1.Records, 20)
	assert.Equal(t, int64(1), d1.Records[0].ID)
	assert.Equal(t, int64(20), d1.Records[19].ID)
	assert.Empty(t, l.CachedChunks(), "full loads bypass the chunk cache")

	d2, err := l.LoadDataset(context.Background())
	require.NoError(t, err)
	assert.Same(t, d1, d2)

	l.ClearCache()
	d3, err := l.LoadDataset(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, d1, d3)
}

func TestLoadDataset_FromDatasetResource(t *testing.T) {
	s := regular()
	s.DatasetPath = testutil.DatasetPath("regular")
	src := testutil.NewMemSource(testutil.Files{
		s.DatasetPath: testutil.MustJSON(t, testutil.Range(1, 3)),
	})
	l := New(s, src, Options{})

	d, err := l.LoadDataset(context.Background())
	require.NoError(t, err)
	assert.Len(t, d.Records, 3)
	assert.Equal(t, 0, src.Calls(s.ManifestPath))
}

func TestClearCache(t *testing.T) {
	src := testutil.NewMemSource(twoChunks(t))
	l := New(regular(), src, Options{})
	ctx := context.Background()

	m, err := l.LoadManifest(ctx)
	require.NoError(t, err)
	_, err = l.LoadChunk(ctx, m.Chunks[0])
	require.NoError(t, err)

	l.ClearCache()
	assert.Empty(t, l.CachedChunks())

	for name, data := range testutil.BuildSession(t, "regular",
		testutil.Range(1, 10), testutil.Range(11, 20), testutil.Range(21, 30)) {
		src.Put(name, data)
	}
	m, err = l.LoadManifest(ctx)
	require.NoError(t, err)
	assert.Len(t, m.Chunks, 3)
	assert.Equal(t, 2, src.Calls("regular/index.json"))
}

type invalidatingSource struct {
	*testutil.MemSource
	prefixes []string
}

func (s *invalidatingSource) InvalidatePrefix(prefix string) error {
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

func TestClearCache_InvalidatesPersistedResources(t *testing.T) {
	src := &invalidatingSource{MemSource: testutil.NewMemSource(twoChunks(t))}
	l := New(regular(), src, Options{})
	l.ClearCache()
	assert.Equal(t, []string{"regular/index.json", "regular/chunks/"}, src.prefixes)
}

func TestSession_ChunkResource(t *testing.T) {
	s := Session{ChunkPrefix: "complementary/chunks/"}
	assert.Equal(t, "complementary/chunks/chunk-003.json", s.ChunkResource(fmt.Sprintf("chunk-%03d.json", 3)))
	assert.Equal(t, "chunk-000.json", Session{}.ChunkResource("chunk-000.json"))

	assert.Equal(t, []string{"regular/index.json", "regular/chunks/"}, regular().Resources())
	assert.Equal(t, []string{"complementary/chunks/", "complementary/all.json"},
		Session{ChunkPrefix: "complementary/chunks/", DatasetPath: "complementary/all.json"}.Resources())
}
