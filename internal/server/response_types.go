// file: internal/server/response_types.go
// version: 2.1.0
// guid: 7f8a9b0c-1d2e-3f4a-5b6c-7d8e9f0a1b2c

package server

import (
	"github.com/jdfalk/exam-results/internal/livesearch"
	"github.com/jdfalk/exam-results/internal/loader"
	"github.com/jdfalk/exam-results/internal/models"
	"github.com/jdfalk/exam-results/internal/operations"
	"github.com/jdfalk/exam-results/internal/search"
)

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	Version        string `json:"version"`
	CurrentSession string `json:"current_session"`
	Sessions       int    `json:"sessions"`
	ResolverState  string `json:"resolver_state"`
}

// SessionInfo describes one configured session.
type SessionInfo struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Year         int    `json:"year"`
	Current      bool   `json:"current"`
	CachedChunks int    `json:"cached_chunks"`
}

// SessionsResponse lists the session table.
type SessionsResponse struct {
	Current  string        `json:"current"`
	Sessions []SessionInfo `json:"sessions"`
}

// SwitchSessionRequest selects the current session.
type SwitchSessionRequest struct {
	Name string `json:"name" binding:"required"`
}

// PreloadResponse reports whether a session manifest was warmed.
type PreloadResponse struct {
	Session     string `json:"session"`
	OK          bool   `json:"ok"`
	Async       bool   `json:"async,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
}

// OperationsResponse lists background operations, oldest first.
type OperationsResponse struct {
	Count      int                    `json:"count"`
	Active     int                    `json:"active"`
	Operations []operations.Operation `json:"operations"`
}

// AllResultsResponse lists the hits of an id across sessions.
type AllResultsResponse struct {
	ID      string           `json:"id"`
	Count   int              `json:"count"`
	Results []*models.Record `json:"results"`
}

// SearchResponse carries ranked name search hits.
type SearchResponse struct {
	Query      string          `json:"query"`
	Session    string          `json:"session"`
	Count      int             `json:"count"`
	Cached     bool            `json:"cached"`
	DurationMS float64         `json:"duration_ms"`
	Results    []search.Result `json:"results"`
}

// SearchStatsResponse reports live search activity.
type SearchStatsResponse struct {
	Session string           `json:"session"`
	Stats   livesearch.Stats `json:"stats"`
}

// CacheClearResponse names what was cleared.
type CacheClearResponse struct {
	Cleared []string `json:"cleared"`
}

func sessionInfo(s loader.Session, current string, cached int) SessionInfo {
	return SessionInfo{
		Name:         s.Name,
		DisplayName:  s.DisplayName,
		Year:         s.Year,
		Current:      s.Name == current,
		CachedChunks: cached,
	}
}
