// file: internal/lookup/resolver.go
// version: 1.0.0
// guid: 3f5a7c9e-1b3d-4f5a-7c9e-1b3d5f7a9c1e

// Package lookup resolves exam records by identifier within one session or
// across every configured session.
package lookup

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/loader"
	"github.com/jdfalk/exam-results/internal/models"
)

// State is the resolver lifecycle.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// ProgressFunc receives coarse completion percentages. Every resolution
// ends with 100, including early returns.
type ProgressFunc func(percent int)

// Progress checkpoints.
const (
	ProgressManifest = 10
	ProgressLocated  = 30
	ProgressLoaded   = 70
	ProgressScanning = 90
	ProgressDone     = 100
)

// ParseID parses a record identifier. Non-numeric and non-positive input
// is rejected.
func ParseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// LocateChunk finds the descriptor whose range holds id. chunks must be
// sorted by ascending minimum with disjoint ranges.
func LocateChunk(chunks []models.ChunkDescriptor, id int64) (models.ChunkDescriptor, bool) {
	i := sort.Search(len(chunks), func(i int) bool {
		return chunks[i].NodeRange.Max.Value >= id
	})
	if i < len(chunks) && chunks[i].NodeRange.Contains(id) {
		return chunks[i], true
	}
	return models.ChunkDescriptor{}, false
}

// Resolver serializes lookups: while one resolution is in flight every
// other request fails with a concurrent-operation error.
type Resolver struct {
	mu      sync.Mutex
	state   State
	lastErr error
}

// State returns the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastError returns the error of the last failed resolution.
func (r *Resolver) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Resolver) acquire(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateResolving {
		return dataerr.New(dataerr.KindConcurrentOperation, op, "",
			errors.New("a lookup is already in progress"))
	}
	r.state = StateResolving
	r.lastErr = nil
	return nil
}

func (r *Resolver) release(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = StateFailed
		r.lastErr = err
		return
	}
	r.state = StateDone
}

// FindByID resolves rawID in the session served by l. It returns nil
// without error when the id is malformed or absent.
func (r *Resolver) FindByID(ctx context.Context, l *loader.Loader, rawID string, progress ProgressFunc) (*models.Record, error) {
	if err := r.acquire("lookup"); err != nil {
		return nil, err
	}
	rec, err := resolve(ctx, l, rawID, progress)
	r.release(err)
	return rec, err
}

func resolve(ctx context.Context, l *loader.Loader, rawID string, progress ProgressFunc) (*models.Record, error) {
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}
	defer report(ProgressDone)

	id, ok := ParseID(rawID)
	if !ok {
		return nil, nil
	}

	report(ProgressManifest)
	m, err := l.LoadManifest(ctx)
	if err != nil {
		return nil, err
	}

	desc, ok := LocateChunk(m.Chunks, id)
	if !ok {
		return nil, nil
	}
	report(ProgressLocated)

	chunk, err := l.LoadChunk(ctx, desc)
	if err != nil {
		return nil, err
	}
	report(ProgressLoaded)

	for i := range chunk.Records {
		if i == len(chunk.Records)/2 {
			report(ProgressScanning)
		}
		if chunk.Records[i].ID == id {
			rec := chunk.Records[i]
			return &rec, nil
		}
	}
	return nil, nil
}
