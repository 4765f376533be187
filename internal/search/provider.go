// file: internal/search/provider.go
// version: 1.1.0
// guid: 3f5a7c9e-1b3d-4f5a-7c9e-1b3d5f7a9c1f

package search

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jdfalk/exam-results/internal/metrics"
	"github.com/jdfalk/exam-results/internal/models"
	"golang.org/x/sync/singleflight"
)

// DatasetSource supplies full session datasets. A new *models.Dataset
// pointer means the data changed.
type DatasetSource interface {
	Dataset(ctx context.Context, session string) (*models.Dataset, error)
	CurrentSession() string
}

type builtIndex struct {
	dataset *models.Dataset
	index   *Index
}

// Provider keeps one index per session and rebuilds it when the session's
// dataset changes. Readers always see a complete index.
type Provider struct {
	src   DatasetSource
	group singleflight.Group

	mu      sync.RWMutex
	indexes map[string]builtIndex
}

// NewProvider creates a provider over src.
func NewProvider(src DatasetSource) *Provider {
	return &Provider{src: src, indexes: make(map[string]builtIndex)}
}

// Scope names the session Search currently reads from.
func (p *Provider) Scope() string { return p.src.CurrentSession() }

// Index returns the index of session, building it if the dataset is new.
func (p *Provider) Index(ctx context.Context, session string) (*Index, error) {
	if session == "" {
		session = p.src.CurrentSession()
	}
	d, err := p.src.Dataset(ctx, session)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	b, ok := p.indexes[session]
	p.mu.RUnlock()
	if ok && b.dataset == d {
		return b.index, nil
	}

	// Builds are shared per dataset so a caller never receives an index of
	// older data than it read.
	v, _, _ := p.group.Do(fmt.Sprintf("%s@%p", session, d), func() (any, error) {
		p.mu.RLock()
		b, ok := p.indexes[session]
		p.mu.RUnlock()
		if ok && b.dataset == d {
			return b.index, nil
		}

		start := time.Now()
		ix := Build(d.Records)
		p.mu.Lock()
		if cur, ok := p.indexes[session]; !ok || !cur.dataset.LoadedAt.After(d.LoadedAt) {
			p.indexes[session] = builtIndex{dataset: d, index: ix}
		}
		p.mu.Unlock()

		metrics.IncIndexBuild(session)
		metrics.SetIndexRecords(session, ix.Len())
		log.Printf("[INFO] built search index for session %s: %d records in %v",
			session, ix.Len(), time.Since(start))
		return ix, nil
	})
	return v.(*Index), nil
}

// Search queries the current session.
func (p *Provider) Search(ctx context.Context, query string, limit int, threshold float64) ([]Result, error) {
	return p.SearchSession(ctx, "", query, limit, threshold)
}

// SearchSession queries one session. Queries too short to search return
// an empty list without loading anything.
func (p *Provider) SearchSession(ctx context.Context, session, query string, limit int, threshold float64) ([]Result, error) {
	if !Searchable(query) {
		return []Result{}, nil
	}
	ix, err := p.Index(ctx, session)
	if err != nil {
		return nil, err
	}
	return ix.Search(query, limit, threshold), nil
}

// Drop forgets the index of a session, or all of them when session is "".
func (p *Provider) Drop(session string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if session == "" {
		p.indexes = make(map[string]builtIndex)
		return
	}
	delete(p.indexes, session)
}
