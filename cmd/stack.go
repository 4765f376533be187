// file: cmd/stack.go
// version: 1.1.0
// guid: 2d4f6a8c-0e2b-4d4f-a6c8-e0b2d4f6a8c0

package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jdfalk/exam-results/internal/config"
	"github.com/jdfalk/exam-results/internal/diskcache"
	"github.com/jdfalk/exam-results/internal/fetcher"
	"github.com/jdfalk/exam-results/internal/livesearch"
	"github.com/jdfalk/exam-results/internal/loader"
	"github.com/jdfalk/exam-results/internal/lookup"
	"github.com/jdfalk/exam-results/internal/realtime"
	"github.com/jdfalk/exam-results/internal/search"
	"github.com/jdfalk/exam-results/internal/watcher"
)

// stack is the assembled data path shared by every command.
type stack struct {
	coord    *lookup.Coordinator
	provider *search.Provider
	live     *livesearch.Session
	disk     *diskcache.Cache
	watcher  *watcher.Watcher
	hub      *realtime.EventHub
}

// loaderSessions converts the configured session table.
func loaderSessions(sessions []config.Session) []loader.Session {
	out := make([]loader.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, loader.Session{
			Name:         s.Name,
			DisplayName:  s.DisplayName,
			Year:         s.Year,
			ManifestPath: s.Manifest,
			ChunkPrefix:  s.ChunkPrefix,
			DatasetPath:  s.Dataset,
		})
	}
	return out
}

// newSource picks the data source: a local directory when data_dir is
// set, otherwise the HTTP host with retries and the optional disk cache.
func newSource(cfg config.Config) (fetcher.Source, *diskcache.Cache, error) {
	if cfg.DataDir != "" {
		if cfg.DiskCachePath != "" {
			log.Printf("[INFO] disk cache disabled for local data directory %s", cfg.DataDir)
		}
		return fetcher.NewDirSource(cfg.DataDir), nil, nil
	}
	if cfg.DataURL == "" {
		return nil, nil, errors.New("no data source configured: set data_dir or data_url")
	}

	httpSrc, err := fetcher.NewHTTPSource(cfg.DataURL, fetcher.HTTPOptions{
		Timeout:   cfg.FetchTimeout,
		RateLimit: cfg.FetchRateLimit,
	})
	if err != nil {
		return nil, nil, err
	}
	policy := fetcher.DefaultRetryPolicy()
	if cfg.FetchAttempts > 0 {
		policy.Attempts = cfg.FetchAttempts
	}
	if cfg.FetchBaseDelay > 0 {
		policy.BaseDelay = cfg.FetchBaseDelay
	}
	var src fetcher.Source = fetcher.WithRetry(httpSrc, policy)

	if cfg.DiskCachePath == "" {
		return src, nil, nil
	}
	disk, err := diskcache.Open(cfg.DiskCachePath, src, cfg.DiskCacheTTL)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[INFO] caching fetched resources in %s (ttl %v)", cfg.DiskCachePath, cfg.DiskCacheTTL)
	return disk, disk, nil
}

// buildStack validates cfg and assembles loaders, coordinator, search
// index provider and live search session.
func buildStack(cfg config.Config) (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	src, disk, err := newSource(cfg)
	if err != nil {
		return nil, err
	}

	coord, err := lookup.NewCoordinator(loaderSessions(cfg.Sessions), src,
		loader.Options{ChunkCacheSize: cfg.ChunkCacheSize}, cfg.DefaultSession)
	if err != nil {
		if disk != nil {
			_ = disk.Close()
		}
		return nil, err
	}
	provider := search.NewProvider(coord)
	live := livesearch.New(provider, livesearch.Options{
		Limit:     cfg.SearchLimit,
		Threshold: livesearch.Threshold(cfg.SearchThreshold),
		Debounce:  cfg.SearchDebounce,
		CacheSize: cfg.QueryCacheSize,
	})
	return &stack{
		coord:    coord,
		provider: provider,
		live:     live,
		disk:     disk,
		hub:      realtime.NewEventHub(0),
	}, nil
}

// invalidate drops every cache that holds data of the given sessions.
func (s *stack) invalidate(sessions []string) {
	for _, name := range sessions {
		if err := s.coord.ClearCache(name); err != nil {
			log.Printf("[WARN] failed to clear session %s: %v", name, err)
			continue
		}
		s.provider.Drop(name)
	}
	if len(sessions) > 0 {
		s.live.ResetCache()
		s.hub.SendCacheCleared(sessions)
	}
}

// watch invalidates the sessions whose files change below dir.
func (s *stack) watch(dir string, debounce time.Duration) error {
	owned := make(map[string][]string)
	for _, sess := range s.coord.Sessions() {
		owned[sess.Name] = sess.Resources()
	}
	w := watcher.New(func(changed []string) {
		sessions := watcher.Owners(changed, owned)
		log.Printf("[INFO] data files changed (%d), reloading sessions %v", len(changed), sessions)
		s.invalidate(sessions)
	}, debounce)
	if err := w.Start(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = w
	return nil
}

// Close stops the watcher, disconnects event clients and closes the disk
// cache.
func (s *stack) Close() error {
	s.hub.Close()
	if s.live != nil {
		s.live.Clear()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.disk != nil {
		return s.disk.Close()
	}
	return nil
}
