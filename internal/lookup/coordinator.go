// file: internal/lookup/coordinator.go
// version: 1.1.0
// guid: 5a7c9e1b-3d5f-4a7c-9e1b-3d5f7a9c1e3b

package lookup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/fetcher"
	"github.com/jdfalk/exam-results/internal/loader"
	"github.com/jdfalk/exam-results/internal/metrics"
	"github.com/jdfalk/exam-results/internal/models"
)

// Coordinator owns one loader per configured session and resolves lookups
// against them. The session table is fixed at construction.
type Coordinator struct {
	sessions []loader.Session
	loaders  map[string]*loader.Loader
	resolver Resolver

	mu      sync.RWMutex
	current string
}

// NewCoordinator builds loaders for sessions over src. defaultSession
// becomes the current session; empty selects the first one.
func NewCoordinator(sessions []loader.Session, src fetcher.Source, opts loader.Options, defaultSession string) (*Coordinator, error) {
	if len(sessions) == 0 {
		return nil, errors.New("no sessions configured")
	}
	c := &Coordinator{loaders: make(map[string]*loader.Loader, len(sessions))}
	for _, s := range sessions {
		if s.Name == "" {
			return nil, errors.New("session with empty name")
		}
		if _, dup := c.loaders[s.Name]; dup {
			return nil, fmt.Errorf("duplicate session %q", s.Name)
		}
		c.sessions = append(c.sessions, s)
		c.loaders[s.Name] = loader.New(s, src, opts)
	}
	if defaultSession == "" {
		defaultSession = sessions[0].Name
	}
	if _, ok := c.loaders[defaultSession]; !ok {
		return nil, invalidSession(defaultSession)
	}
	c.current = defaultSession
	return c, nil
}

func invalidSession(name string) error {
	e := dataerr.New(dataerr.KindInvalidSession, "session", "", fmt.Errorf("unknown session %q", name))
	e.Session = name
	return e
}

// Sessions returns the session table in its configured order.
func (c *Coordinator) Sessions() []loader.Session {
	return append([]loader.Session(nil), c.sessions...)
}

// Loader returns the loader of a session; "" means the current one.
func (c *Coordinator) Loader(name string) (*loader.Loader, error) {
	if name == "" {
		name = c.CurrentSession()
	}
	l, ok := c.loaders[name]
	if !ok {
		return nil, invalidSession(name)
	}
	return l, nil
}

// CurrentSession returns the default session used when none is given.
func (c *Coordinator) CurrentSession() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// SwitchSession changes the current session.
func (c *Coordinator) SwitchSession(name string) error {
	if _, ok := c.loaders[name]; !ok {
		return invalidSession(name)
	}
	c.mu.Lock()
	prev := c.current
	c.current = name
	c.mu.Unlock()
	if prev != name {
		log.Printf("[INFO] switched session %s -> %s", prev, name)
	}
	return nil
}

// State reports the resolver state.
func (c *Coordinator) State() State { return c.resolver.State() }

// FindInSession resolves rawID in session ("" for the current one) and
// tags the hit with its session.
func (c *Coordinator) FindInSession(ctx context.Context, rawID, session string, progress ProgressFunc) (*models.Record, error) {
	l, err := c.Loader(session)
	if err != nil {
		metrics.ObserveLookup(session, "invalid", 0)
		return nil, err
	}
	start := time.Now()
	rec, err := c.resolver.FindByID(ctx, l, rawID, progress)
	if dataerr.KindOf(err) == dataerr.KindConcurrentOperation {
		metrics.ObserveLookup(l.Session().Name, "busy", 0)
		return nil, err
	}
	return c.tag(l.Session(), rec, err, start)
}

// FindByID resolves rawID in the current session.
func (c *Coordinator) FindByID(ctx context.Context, rawID string, progress ProgressFunc) (*models.Record, error) {
	return c.FindInSession(ctx, rawID, "", progress)
}

func (c *Coordinator) findIn(ctx context.Context, l *loader.Loader, rawID string, progress ProgressFunc) (*models.Record, error) {
	start := time.Now()
	rec, err := resolve(ctx, l, rawID, progress)
	return c.tag(l.Session(), rec, err, start)
}

// tag records the outcome of a resolution in s and annotates the hit.
func (c *Coordinator) tag(s loader.Session, rec *models.Record, err error, start time.Time) (*models.Record, error) {
	switch {
	case err != nil:
		metrics.ObserveLookup(s.Name, "error", time.Since(start))
		return nil, dataerr.WithSession(err, s.Name)
	case rec == nil:
		metrics.ObserveLookup(s.Name, "miss", time.Since(start))
		return nil, nil
	}
	metrics.ObserveLookup(s.Name, "hit", time.Since(start))
	return rec.Tagged(s.Tag()), nil
}

// FindInAllSessions resolves rawID in every session, one after another in
// table order, and returns every hit. Per-session failures are logged and
// skipped. The only error is a concurrent-operation rejection.
func (c *Coordinator) FindInAllSessions(ctx context.Context, rawID string) ([]*models.Record, error) {
	if err := c.resolver.acquire("lookup_all"); err != nil {
		return nil, err
	}
	defer c.resolver.release(nil)

	results := []*models.Record{}
	for _, s := range c.sessions {
		rec, err := c.findIn(ctx, c.loaders[s.Name], rawID, nil)
		if err != nil {
			log.Printf("[WARN] lookup of %s in session %s failed: %v", rawID, s.Name, err)
			continue
		}
		if rec != nil {
			results = append(results, rec)
		}
	}
	return results, nil
}

// Preload warms the manifest of a session. It reports failure instead of
// returning it so callers can run it in the background.
func (c *Coordinator) Preload(ctx context.Context, session string) bool {
	l, err := c.Loader(session)
	if err != nil {
		log.Printf("[WARN] preload: %v", err)
		return false
	}
	if _, err := l.LoadManifest(ctx); err != nil {
		log.Printf("[WARN] preload of session %s failed: %v", l.Session().Name, err)
		return false
	}
	return true
}

// ClearCache drops the caches of one session, or of all sessions when
// session is empty.
func (c *Coordinator) ClearCache(session string) error {
	if session == "" {
		for _, s := range c.sessions {
			c.loaders[s.Name].ClearCache()
		}
		return nil
	}
	l, ok := c.loaders[session]
	if !ok {
		return invalidSession(session)
	}
	l.ClearCache()
	return nil
}

// Dataset returns the full record set of a session ("" for current).
func (c *Coordinator) Dataset(ctx context.Context, session string) (*models.Dataset, error) {
	l, err := c.Loader(session)
	if err != nil {
		return nil, err
	}
	return l.LoadDataset(ctx)
}
