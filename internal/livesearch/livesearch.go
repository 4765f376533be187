// file: internal/livesearch/livesearch.go
// version: 1.1.0
// guid: 9c1e3b5d-7f9a-4c1e-3b5d-7f9a1c3e5b7d

// Package livesearch wraps the name index for typing-speed input: it
// debounces queries, caches results per query and keeps search statistics.
package livesearch

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/jdfalk/exam-results/internal/cache"
	"github.com/jdfalk/exam-results/internal/metrics"
	"github.com/jdfalk/exam-results/internal/normalize"
	"github.com/jdfalk/exam-results/internal/search"
)

// Searcher runs one search. Scope names the data the results come from so
// cached results are never served across sessions.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, threshold float64) ([]search.Result, error)
	Scope() string
}

// DefaultThreshold is the highest score a result may have by default.
const DefaultThreshold = 0.4

// Options configures a Session.
type Options struct {
	Limit int
	// Threshold is the highest accepted score. nil selects DefaultThreshold;
	// 0 keeps exact matches only.
	Threshold *float64
	Debounce  time.Duration
	CacheSize int
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{Limit: 20, Threshold: Threshold(DefaultThreshold), Debounce: 150 * time.Millisecond, CacheSize: 100}
}

// Threshold returns a pointer to v for Options.Threshold.
func Threshold(v float64) *float64 { return &v }

// MaxScore returns the effective threshold.
func (o Options) MaxScore() float64 {
	if o.Threshold == nil {
		return DefaultThreshold
	}
	return *o.Threshold
}

// Response is the outcome of a dispatched search.
type Response struct {
	Query    string          `json:"query"`
	Results  []search.Result `json:"results"`
	Cached   bool            `json:"cached"`
	Duration time.Duration   `json:"duration"`
	Err      error           `json:"-"`
	Seq      uint64          `json:"seq"`
}

// Stats summarizes search activity. AverageDuration only covers searches
// answered by the index.
type Stats struct {
	LastDuration    time.Duration `json:"last_duration"`
	Searches        int           `json:"searches"`
	CacheHits       int           `json:"cache_hits"`
	CacheHitRate    float64       `json:"cache_hit_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	CacheEntries    int           `json:"cache_entries"`
}

// Session is one stream of live input. It is safe for concurrent use.
type Session struct {
	searcher Searcher
	opts     Options
	cache    *cache.Cache[[]search.Result]

	mu        sync.Mutex
	seq       uint64
	timer     *time.Timer
	searching bool
	last      *Response
	onResult  func(Response)

	searches int
	hits     int
	computed int
	total    time.Duration
	lastDur  time.Duration
}

// New creates a session over s. Zero options fall back to DefaultOptions.
func New(s Searcher, opts Options) *Session {
	def := DefaultOptions()
	if opts.Limit <= 0 {
		opts.Limit = def.Limit
	}
	if opts.Threshold == nil {
		opts.Threshold = def.Threshold
	}
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	return &Session{searcher: s, opts: opts, cache: cache.New[[]search.Result](opts.CacheSize, 0)}
}

// Options returns the effective options.
func (s *Session) Options() Options { return s.opts }

// OnResult registers a callback for debounced results that are still
// current when they arrive.
func (s *Session) OnResult(fn func(Response)) {
	s.mu.Lock()
	s.onResult = fn
	s.mu.Unlock()
}

func (s *Session) cacheKey(query string, limit int, threshold float64) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%s", s.searcher.Scope(), normalize.Normalize(query),
		limit, strconv.FormatFloat(threshold, 'g', -1, 64))
}

// Search runs query with the session's limit and threshold.
func (s *Session) Search(ctx context.Context, query string) ([]search.Result, error) {
	results, _, err := s.SearchWith(ctx, query, s.opts.Limit, s.opts.MaxScore())
	return results, err
}

// SearchWith runs query immediately, answering from the query cache when
// possible. The boolean reports a cache hit.
func (s *Session) SearchWith(ctx context.Context, query string, limit int, threshold float64) ([]search.Result, bool, error) {
	if !search.Searchable(query) {
		return []search.Result{}, false, nil
	}

	key := s.cacheKey(query, limit, threshold)
	if results, ok := s.cache.Get(key); ok {
		s.mu.Lock()
		s.searches++
		s.hits++
		s.mu.Unlock()
		metrics.IncSearchCached()
		return results, true, nil
	}

	start := time.Now()
	results, err := s.searcher.Search(ctx, query, limit, threshold)
	elapsed := time.Since(start)
	if err != nil {
		return nil, false, err
	}
	s.cache.Set(key, results)

	s.mu.Lock()
	s.searches++
	s.computed++
	s.total += elapsed
	s.lastDur = elapsed
	s.mu.Unlock()
	metrics.ObserveSearch(elapsed)
	return results, false, nil
}

// SearchDebounced schedules query after the quiet period. A later call
// supersedes it; results of superseded searches are dropped.
func (s *Session) SearchDebounced(ctx context.Context, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	seq := s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	s.searching = true
	s.timer = time.AfterFunc(s.opts.Debounce, func() {
		s.dispatch(ctx, seq, query)
	})
}

func (s *Session) current(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq == s.seq
}

func (s *Session) dispatch(ctx context.Context, seq uint64, query string) {
	if !s.current(seq) {
		return
	}

	start := time.Now()
	results, cached, err := s.SearchWith(ctx, query, s.opts.Limit, s.opts.MaxScore())
	resp := Response{Query: query, Results: results, Cached: cached, Duration: time.Since(start), Err: err, Seq: seq}

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		log.Printf("[DEBUG] live search: dropped stale result for %q", query)
		return
	}
	s.searching = false
	s.last = &resp
	fn := s.onResult
	s.mu.Unlock()

	if err != nil {
		log.Printf("[WARN] live search for %q failed: %v", query, err)
	}
	if fn != nil {
		fn(resp)
	}
}

// IsSearching reports whether a debounced search is waiting or running.
func (s *Session) IsSearching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searching
}

// Last returns the latest current debounced response, or nil.
func (s *Session) Last() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Clear cancels pending debounced work and forgets the last result. The
// index and the query cache are left alone.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.searching = false
	s.last = nil
}

// ResetCache empties the query cache, e.g. after the data changed.
func (s *Session) ResetCache() {
	s.cache.InvalidateAll()
}

// Stats returns a snapshot of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		LastDuration: s.lastDur,
		Searches:     s.searches,
		CacheHits:    s.hits,
		CacheEntries: s.cache.Len(),
	}
	if s.searches > 0 {
		st.CacheHitRate = float64(s.hits) / float64(s.searches)
	}
	if s.computed > 0 {
		st.AverageDuration = s.total / time.Duration(s.computed)
	}
	return st
}
