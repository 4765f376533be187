// file: internal/fetcher/fetcher.go
// version: 1.1.0
// guid: 4a6c8e0a-2b4d-4f6a-8c0e-2a4c6e8a0b2d

// Package fetcher retrieves the static JSON resources a dataset is made of,
// either over HTTP or from a local directory, and classifies failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"golang.org/x/time/rate"
)

// DefaultMaxBodyBytes caps a single resource download.
const DefaultMaxBodyBytes = 128 << 20

// Source fetches a named resource. Names are slash-separated paths
// relative to the dataset root, e.g. "regular/chunks/chunk-001.json".
type Source interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

type kindKey struct{}

// WithKind labels fetches made with ctx ("manifest", "chunk", "dataset")
// for logs and metrics.
func WithKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, kindKey{}, kind)
}

// KindFrom returns the label set by WithKind, or "resource".
func KindFrom(ctx context.Context) string {
	if kind, ok := ctx.Value(kindKey{}).(string); ok && kind != "" {
		return kind
	}
	return "resource"
}

// HTTPOptions configures an HTTPSource.
type HTTPOptions struct {
	Timeout      time.Duration // per attempt
	RateLimit    float64       // requests per second, 0 disables limiting
	MaxBodyBytes int64
	Client       *http.Client
}

// HTTPSource fetches resources with plain GET requests below a base URL.
type HTTPSource struct {
	baseURL *url.URL
	client  *http.Client
	timeout time.Duration
	maxBody int64
	limiter *rate.Limiter
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string, opts HTTPOptions) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid data url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid data url %q: scheme must be http or https", baseURL)
	}

	s := &HTTPSource{
		baseURL: u,
		client:  opts.Client,
		timeout: opts.Timeout,
		maxBody: opts.MaxBodyBytes,
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s, nil
}

// URL returns the absolute URL of a resource.
func (s *HTTPSource) URL(name string) string {
	return s.baseURL.JoinPath(strings.TrimLeft(name, "/")).String()
}

// Fetch performs a single GET. Retries are layered on by Retrying.
func (s *HTTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, dataerr.New(dataerr.KindNetwork, KindFrom(ctx), name, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(name), nil)
	if err != nil {
		return nil, dataerr.New(dataerr.KindUnknown, KindFrom(ctx), name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, dataerr.New(dataerr.KindNetwork, KindFrom(ctx), name, err)
	}
	defer resp.Body.Close()

	if kind, failed := classifyStatus(resp.StatusCode); failed {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		e := dataerr.New(kind, KindFrom(ctx), name, fmt.Errorf("unexpected status %s", resp.Status))
		e.Status = resp.StatusCode
		return nil, e
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, dataerr.New(dataerr.KindNetwork, KindFrom(ctx), name, err)
	}
	if int64(len(body)) > s.maxBody {
		return nil, dataerr.New(dataerr.KindDataFormat, KindFrom(ctx), name,
			fmt.Errorf("resource exceeds %d bytes", s.maxBody))
	}
	return body, nil
}

// classifyStatus maps an HTTP status onto a failure kind.
func classifyStatus(status int) (dataerr.Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return dataerr.KindUnknown, false
	case status == http.StatusNotFound, status == http.StatusGone:
		return dataerr.KindNotFound, true
	default:
		return dataerr.KindServer, true
	}
}

// DirSource reads resources from a local directory tree.
type DirSource struct {
	root string
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: filepath.Clean(dir)}
}

// Fetch reads one file. Names escaping the root are reported as not found.
func (s *DirSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, dataerr.New(dataerr.KindNetwork, KindFrom(ctx), name, err)
	}

	path := filepath.Join(s.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, dataerr.New(dataerr.KindNotFound, KindFrom(ctx), name, errors.New("path escapes data directory"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dataerr.New(dataerr.KindNotFound, KindFrom(ctx), name, err)
		}
		return nil, dataerr.New(dataerr.KindNetwork, KindFrom(ctx), name, err)
	}
	return data, nil
}
