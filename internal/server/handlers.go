// file: internal/server/handlers.go
// version: 1.1.0
// guid: 0b2d4f6a-8c0e-4b2d-9f6a-8c0e2b4d6f8a

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/exam-results/internal/dataerr"
	"github.com/jdfalk/exam-results/internal/lookup"
	"github.com/jdfalk/exam-results/internal/operations"
	"github.com/jdfalk/exam-results/internal/search"
	"github.com/jdfalk/exam-results/internal/server/middleware"
)

const maxSearchLimit = 200

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		Timestamp:      time.Now().Unix(),
		Version:        Version,
		CurrentSession: s.coord.CurrentSession(),
		Sessions:       len(s.coord.Sessions()),
		ResolverState:  s.coord.State().String(),
	})
}

func (s *Server) listSessions(c *gin.Context) {
	current := s.coord.CurrentSession()
	resp := SessionsResponse{Current: current}
	for _, sess := range s.coord.Sessions() {
		cached := 0
		if l, err := s.coord.Loader(sess.Name); err == nil {
			cached = len(l.CachedChunks())
		}
		resp.Sessions = append(resp.Sessions, sessionInfo(sess, current, cached))
	}
	RespondWithOK(c, resp)
}

func (s *Server) switchSession(c *gin.Context) {
	var req SwitchSessionRequest
	if HandleBindError(c, c.ShouldBindJSON(&req)) {
		return
	}
	ol := operationLogger(c, "switchSession")
	ol.SetResourceID(req.Name)

	if err := s.coord.SwitchSession(req.Name); err != nil {
		ol.LogError(StatusForKind(dataerr.KindOf(err)), err)
		RespondWithDataError(c, err)
		return
	}
	ol.LogSuccess(http.StatusOK)
	s.hub.SendSessionSwitched(req.Name)
	RespondWithOK(c, gin.H{"current": s.coord.CurrentSession()})
}

// preloadSession warms a session manifest. With ?async=true it queues the
// warm-up as a background operation and returns its id.
func (s *Server) preloadSession(c *gin.Context) {
	name := c.Param("name")
	l, err := s.coord.Loader(name)
	if err != nil {
		RespondWithDataError(c, err)
		return
	}

	if c.Query("async") == "true" {
		sl := NewServiceLogger("preload", middleware.GetRequestID(c))
		op, err := s.ops.Enqueue("preload", name, func(ctx context.Context, progress operations.ProgressReporter) error {
			progress.UpdateProgress(0, 1, "loading manifest")
			m, err := l.LoadManifest(ctx)
			if err != nil {
				sl.LogError("Preload", err)
				return err
			}
			sl.LogOperation("Preload", map[string]any{"session": name, "chunks": len(m.Chunks)})
			progress.UpdateProgress(1, 1, fmt.Sprintf("%d chunks, %d records", len(m.Chunks), m.Metadata.TotalRecords))
			return nil
		})
		if err != nil {
			respondWithQueueError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, PreloadResponse{Session: name, Async: true, OperationID: op.ID})
		return
	}

	ok := s.coord.Preload(c.Request.Context(), name)
	RespondWithOK(c, PreloadResponse{Session: name, OK: ok})
}

// buildIndex queues a search index build for a session.
func (s *Server) buildIndex(c *gin.Context) {
	name := c.Param("name")
	if _, err := s.coord.Loader(name); err != nil {
		RespondWithDataError(c, err)
		return
	}

	sl := NewServiceLogger("index", middleware.GetRequestID(c))
	op, err := s.ops.Enqueue("index", name, func(ctx context.Context, progress operations.ProgressReporter) error {
		progress.UpdateProgress(0, 1, "loading dataset")
		ix, err := s.provider.Index(ctx, name)
		if err != nil {
			sl.LogError("BuildIndex", err)
			return err
		}
		sl.LogOperation("BuildIndex", map[string]any{"session": name, "names": ix.Len()})
		progress.UpdateProgress(1, 1, fmt.Sprintf("indexed %d names", ix.Len()))
		return nil
	})
	if err != nil {
		respondWithQueueError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, op)
}

func (s *Server) getResult(c *gin.Context) {
	raw := c.Param("id")
	if _, ok := lookup.ParseID(raw); !ok {
		RespondWithValidationError(c, "id", "must be a positive integer")
		return
	}
	ol := operationLogger(c, "getResult")
	ol.SetResourceID(raw)
	session := c.Query("session")
	if session != "" {
		ol.AddDetail("session", session)
	}

	rec, err := s.coord.FindInSession(c.Request.Context(), raw, session, nil)
	if err != nil {
		RespondWithDataError(c, err)
		return
	}
	if rec == nil {
		RespondWithNotFound(c, "result", raw)
		return
	}
	ol.LogSuccess(http.StatusOK)
	RespondWithOK(c, rec)
}

func (s *Server) getResultAllSessions(c *gin.Context) {
	raw := c.Param("id")
	if _, ok := lookup.ParseID(raw); !ok {
		RespondWithValidationError(c, "id", "must be a positive integer")
		return
	}

	records, err := s.coord.FindInAllSessions(c.Request.Context(), raw)
	if err != nil {
		RespondWithDataError(c, err)
		return
	}
	RespondWithOK(c, AllResultsResponse{ID: raw, Count: len(records), Results: records})
}

// searchNames answers ?q= against the current session through the live
// search cache, or against ?session= directly.
func (s *Server) searchNames(c *gin.Context) {
	opts := s.live.Options()
	query := c.Query("q")
	limit := ParseQueryInt(c, "limit", opts.Limit)
	if limit < 1 {
		limit = opts.Limit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	threshold := ParseQueryFloat(c, "threshold", opts.MaxScore())
	if threshold < 0 || threshold > 1 {
		threshold = opts.MaxScore()
	}

	session := c.Query("session")
	current := s.coord.CurrentSession()
	if session != "" {
		if _, err := s.coord.Loader(session); err != nil {
			RespondWithDataError(c, err)
			return
		}
	}

	start := time.Now()
	var (
		results []search.Result
		cached  bool
		err     error
	)
	if session == "" || session == current {
		session = current
		results, cached, err = s.live.SearchWith(c.Request.Context(), query, limit, threshold)
	} else {
		results, err = s.provider.SearchSession(c.Request.Context(), session, query, limit, threshold)
	}
	if err != nil {
		RespondWithDataError(c, err)
		return
	}

	RespondWithOK(c, SearchResponse{
		Query:      query,
		Session:    session,
		Count:      len(results),
		Cached:     cached,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000,
		Results:    results,
	})
}

func (s *Server) searchStats(c *gin.Context) {
	RespondWithOK(c, SearchStatsResponse{Session: s.coord.CurrentSession(), Stats: s.live.Stats()})
}

// clearCache drops the loader caches, search index and query cache of one
// session, or of every session when ?session= is absent.
func (s *Server) clearCache(c *gin.Context) {
	session := c.Query("session")
	ol := operationLogger(c, "clearCache")
	ol.SetResourceID(session)

	if err := s.coord.ClearCache(session); err != nil {
		RespondWithDataError(c, err)
		return
	}
	s.provider.Drop(session)
	s.live.ResetCache()

	cleared := []string{session}
	if session == "" {
		cleared = cleared[:0]
		for _, sess := range s.coord.Sessions() {
			cleared = append(cleared, sess.Name)
		}
	}
	ol.LogSuccess(http.StatusOK)
	s.hub.SendCacheCleared(cleared)
	RespondWithOK(c, CacheClearResponse{Cleared: cleared})
}

func (s *Server) listOperations(c *gin.Context) {
	ops := s.ops.List()
	RespondWithOK(c, OperationsResponse{
		Count:      len(ops),
		Active:     len(s.ops.ActiveOperations()),
		Operations: ops,
	})
}

func (s *Server) getOperation(c *gin.Context) {
	id := c.Param("id")
	op, ok := s.ops.Get(id)
	if !ok {
		RespondWithNotFound(c, "operation", id)
		return
	}
	RespondWithOK(c, op)
}

func (s *Server) cancelOperation(c *gin.Context) {
	id := c.Param("id")
	ol := operationLogger(c, "cancelOperation")
	ol.SetResourceID(id)

	op, err := s.ops.Cancel(id)
	switch {
	case errors.Is(err, operations.ErrNotFound):
		RespondWithNotFound(c, "operation", id)
		return
	case errors.Is(err, operations.ErrFinished):
		ol.LogError(http.StatusConflict, err)
		RespondWithError(c, http.StatusConflict, fmt.Sprintf("operation %s already %s", id, op.Status), "OPERATION_FINISHED")
		return
	case err != nil:
		RespondWithError(c, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	ol.LogSuccess(http.StatusOK)
	RespondWithOK(c, op)
}

func respondWithQueueError(c *gin.Context, err error) {
	if errors.Is(err, operations.ErrQueueFull) || errors.Is(err, operations.ErrShutdown) {
		RespondWithError(c, http.StatusServiceUnavailable, err.Error(), "QUEUE_UNAVAILABLE")
		return
	}
	RespondWithError(c, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}
