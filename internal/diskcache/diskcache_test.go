// file: internal/diskcache/diskcache_test.go
// version: 1.1.0
// guid: 5f7a9c1e-3b5d-4f7a-9c1e-3b5d7f9a1c3e

package diskcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu    sync.Mutex
	calls map[string]int
	data  map[string]string
}

func (s *countingSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	v, ok := s.data[name]
	if !ok {
		return nil, dataerr.New(dataerr.KindNotFound, "chunk", name, nil)
	}
	return []byte(v), nil
}

func newSource() *countingSource {
	return &countingSource{
		calls: map[string]int{},
		data: map[string]string{
			"regular/index.json":            `{"chunks":[]}`,
			"regular/chunks/chunk-000.json": `{"students":[]}`,
			"complementary/index.json":      `{"chunks":[1]}`,
		},
	}
}

func TestCache_ReadThrough(t *testing.T) {
	src := newSource()
	c, err := Open(t.TempDir(), src, time.Hour)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		data, err := c.Fetch(context.Background(), "regular/index.json")
		require.NoError(t, err)
		assert.Equal(t, `{"chunks":[]}`, string(data))
	}
	assert.Equal(t, 1, src.calls["regular/index.json"])
}

func TestCache_FailuresAreNotStored(t *testing.T) {
	src := newSource()
	c, err := Open(t.TempDir(), src, time.Hour)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Fetch(context.Background(), "missing.json")
	assert.ErrorIs(t, err, dataerr.ErrNotFound)
	_, err = c.Fetch(context.Background(), "missing.json")
	assert.Error(t, err)
	assert.Equal(t, 2, src.calls["missing.json"])
}

func TestCache_TTL(t *testing.T) {
	src := newSource()
	c, err := Open(t.TempDir(), src, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	_, err = c.Fetch(context.Background(), "regular/index.json")
	require.NoError(t, err)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = c.Fetch(context.Background(), "regular/index.json")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls["regular/index.json"])
}

func TestCache_InvalidatePrefix(t *testing.T) {
	src := newSource()
	c, err := Open(t.TempDir(), src, 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for _, name := range []string{"regular/index.json", "regular/chunks/chunk-000.json", "complementary/index.json"} {
		_, err := c.Fetch(ctx, name)
		require.NoError(t, err)
	}

	require.NoError(t, c.InvalidatePrefix("regular/"))
	for _, name := range []string{"regular/index.json", "regular/chunks/chunk-000.json", "complementary/index.json"} {
		_, err := c.Fetch(ctx, name)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, src.calls["regular/index.json"])
	assert.Equal(t, 2, src.calls["regular/chunks/chunk-000.json"])
	assert.Equal(t, 1, src.calls["complementary/index.json"])
}

func TestCache_InvalidateDropsExactName(t *testing.T) {
	src := newSource()
	src.data["regular/index.json.bak"] = `{}`
	c, err := Open(t.TempDir(), src, 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for _, name := range []string{"regular/index.json", "regular/index.json.bak"} {
		_, err := c.Fetch(ctx, name)
		require.NoError(t, err)
	}

	require.NoError(t, c.Invalidate("regular/index.json"))
	require.NoError(t, c.Invalidate("never-stored.json"))
	for _, name := range []string{"regular/index.json", "regular/index.json.bak"} {
		_, err := c.Fetch(ctx, name)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, src.calls["regular/index.json"])
	assert.Equal(t, 1, src.calls["regular/index.json.bak"])
}

func TestCache_Entries(t *testing.T) {
	src := newSource()
	c, err := Open(t.TempDir(), src, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()
	for _, name := range []string{"regular/index.json", "regular/chunks/chunk-000.json", "complementary/index.json"} {
		_, err := c.Fetch(ctx, name)
		require.NoError(t, err)
	}

	all, err := c.Entries("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "complementary/index.json", all[0].Name)
	assert.Equal(t, len(`{"chunks":[1]}`), all[0].Size)
	assert.False(t, all[0].Expired)

	regular, err := c.Entries("regular/", 1)
	require.NoError(t, err)
	require.Len(t, regular, 1)
	assert.Equal(t, "regular/chunks/chunk-000.json", regular[0].Name)

	c.now = func() time.Time { return now.Add(time.Hour) }
	all, err = c.Entries("", 0)
	require.NoError(t, err)
	for _, e := range all {
		assert.True(t, e.Expired, e.Name)
	}
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("res;"), prefixEnd([]byte("res:")))
	assert.Equal(t, []byte("b"), prefixEnd([]byte{'a', 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff}))
}
