// file: internal/dataerr/errors.go
// version: 1.1.0
// guid: 2c4e6a8b-0d1f-4e3a-9b5c-7d9e1f3a5b7c

// Package dataerr classifies failures of the dataset access path. Every
// failure carries a Kind that decides retry behavior and the message shown
// to users, while the wrapped cause stays available for logs.
package dataerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a failure class.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindServer
	KindNotFound
	KindChunkNotFound
	KindDataFormat
	KindEmptyChunk
	KindConcurrentOperation
	KindInvalidSession
)

var kindNames = map[Kind]string{
	KindUnknown:             "UNKNOWN",
	KindNetwork:             "NETWORK_ERROR",
	KindServer:              "SERVER_ERROR",
	KindNotFound:            "NOT_FOUND",
	KindChunkNotFound:       "CHUNK_NOT_FOUND",
	KindDataFormat:          "DATA_FORMAT_ERROR",
	KindEmptyChunk:          "EMPTY_CHUNK",
	KindConcurrentOperation: "CONCURRENT_OPERATION",
	KindInvalidSession:      "INVALID_SESSION",
}

// String returns the stable code for k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a classified failure.
type Error struct {
	Kind     Kind
	Op       string // "manifest", "chunk", "dataset", "lookup", ...
	Session  string
	Resource string
	Status   int // HTTP status when the remote answered
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(e.Kind.String()))
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.Session != "" {
		fmt.Fprintf(&b, " [session %s]", e.Session)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, " (%s)", e.Resource)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status %d", e.Status)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, dataerr.ErrNetwork) holds
// for any network failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrServer              = &Error{Kind: KindServer}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrChunkNotFound       = &Error{Kind: KindChunkNotFound}
	ErrDataFormat          = &Error{Kind: KindDataFormat}
	ErrEmptyChunk          = &Error{Kind: KindEmptyChunk}
	ErrConcurrentOperation = &Error{Kind: KindConcurrentOperation}
	ErrInvalidSession      = &Error{Kind: KindInvalidSession}
)

// New builds a classified error.
func New(kind Kind, op, resource string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is transient. Network and server failures
// are retried, except client-error statuses other than 408 and 429.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindNetwork:
		return true
	case KindServer:
		return e.Status < 400 || e.Status >= 500 || e.Status == 408 || e.Status == 429
	}
	return false
}

// WithSession returns err with the session recorded on its *Error, if any.
// The original error value is left untouched.
func WithSession(err error, session string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Session = session
	return &cp
}
