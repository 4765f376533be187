// file: internal/fetcher/fetcher_test.go
// version: 1.1.0
// guid: c2e4a6c8-0a2c-4e6a-8c0e-4a6c8e0a2c4e

package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
}

func newHTTP(t *testing.T, handler http.HandlerFunc) (*HTTPSource, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	src, err := NewHTTPSource(srv.URL+"/data", HTTPOptions{Timeout: time.Second})
	require.NoError(t, err)
	return src, &hits
}

func TestHTTPSource_FetchOK(t *testing.T) {
	src, hits := newHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/regular/index.json", r.URL.Path)
		w.Write([]byte(`{"ok":true}`))
	})

	data, err := WithRetry(src, fastPolicy()).Fetch(context.Background(), "regular/index.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPSource_NotFoundIsNotRetried(t *testing.T) {
	src, hits := newHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := WithRetry(src, fastPolicy()).Fetch(WithKind(context.Background(), "chunk"), "regular/chunks/chunk-009.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, dataerr.ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())

	var e *dataerr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.Equal(t, "chunk", e.Op)
}

func TestHTTPSource_ServerErrorRetriedThenSurfaced(t *testing.T) {
	src, hits := newHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := WithRetry(src, fastPolicy()).Fetch(context.Background(), "regular/index.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, dataerr.ErrServer)
	assert.Equal(t, int32(3), hits.Load())

	var e *dataerr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Attempts)
}

func TestHTTPSource_TransientFailureRecovers(t *testing.T) {
	var calls atomic.Int32
	src, _ := newHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	})

	data, err := WithRetry(src, fastPolicy()).Fetch(context.Background(), "x.json")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src, err := NewHTTPSource(url, HTTPOptions{Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	_, err = WithRetry(src, fastPolicy()).Fetch(context.Background(), "index.json")
	assert.ErrorIs(t, err, dataerr.ErrNetwork)
}

func TestHTTPSource_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src, err := NewHTTPSource(srv.URL, HTTPOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = src.Fetch(context.Background(), "slow.json")
	assert.ErrorIs(t, err, dataerr.ErrNetwork)
}

func TestHTTPSource_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL, HTTPOptions{MaxBodyBytes: 16})
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), "big.json")
	assert.ErrorIs(t, err, dataerr.ErrDataFormat)
}

func TestNewHTTPSource_RejectsBadScheme(t *testing.T) {
	_, err := NewHTTPSource("ftp://example.com", HTTPOptions{})
	assert.Error(t, err)
}

func TestNewHTTPSource_RateLimit(t *testing.T) {
	src, err := NewHTTPSource("https://example.com/data", HTTPOptions{RateLimit: 0.5})
	require.NoError(t, err)
	require.NotNil(t, src.limiter)
	assert.Equal(t, 1, src.limiter.Burst())
	assert.Equal(t, "https://example.com/data/regular/index.json", src.URL("/regular/index.json"))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   dataerr.Kind
		failed bool
	}{
		{200, dataerr.KindUnknown, false},
		{404, dataerr.KindNotFound, true},
		{410, dataerr.KindNotFound, true},
		{403, dataerr.KindServer, true},
		{400, dataerr.KindServer, true},
		{429, dataerr.KindServer, true},
		{500, dataerr.KindServer, true},
		{503, dataerr.KindServer, true},
	}
	for _, tt := range tests {
		kind, failed := classifyStatus(tt.status)
		if kind != tt.kind || failed != tt.failed {
			t.Errorf("classifyStatus(%d) = %v,%v want %v,%v", tt.status, kind, failed, tt.kind, tt.failed)
		}
	}
}

func TestRetrying_ClientErrorNotRetried(t *testing.T) {
	src, hits := newHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := WithRetry(src, RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}).Fetch(context.Background(), "x.json")
	assert.ErrorIs(t, err, dataerr.ErrServer)
	assert.Equal(t, int32(1), hits.Load())

	var de *dataerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusForbidden, de.Status)
}

func TestRetryPolicyDelayDoubles(t *testing.T) {
	p := RetryPolicy{Attempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
}

func TestRetrying_ContextCanceledDuringBackoff(t *testing.T) {
	src, hits := newHTTP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := WithRetry(src, RetryPolicy{Attempts: 3, BaseDelay: time.Second}).Fetch(ctx, "x.json")
	assert.ErrorIs(t, err, dataerr.ErrNetwork)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "regular"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "regular", "index.json"), []byte(`{}`), 0o644))

	src := NewDirSource(dir)
	data, err := src.Fetch(context.Background(), "regular/index.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	_, err = src.Fetch(context.Background(), "regular/missing.json")
	assert.ErrorIs(t, err, dataerr.ErrNotFound)

	_, err = src.Fetch(context.Background(), "../outside.json")
	assert.ErrorIs(t, err, dataerr.ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Fetch(ctx, "regular/index.json")
	assert.ErrorIs(t, err, dataerr.ErrNetwork)
}
