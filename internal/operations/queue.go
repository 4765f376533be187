// file: internal/operations/queue.go
// version: 2.1.0
// guid: 7d6e5f4a-3c2b-1a09-8f7e-6d5c4b3a2190

// Package operations runs long data tasks (session preloads, search index
// builds) on a small worker pool and keeps their status for polling.
package operations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jdfalk/exam-results/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// Operation states
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// DefaultHistory is the number of finished operations kept for polling.
const DefaultHistory = 100

var (
	ErrNotFound  = errors.New("operation not found")
	ErrFinished  = errors.New("operation already finished")
	ErrQueueFull = errors.New("operation queue is full")
	ErrShutdown  = errors.New("operation queue is shut down")
)

// OperationFunc represents an operation that can be executed
type OperationFunc func(ctx context.Context, progress ProgressReporter) error

// ProgressReporter allows operations to report their progress
type ProgressReporter interface {
	UpdateProgress(current, total int, message string)
	IsCanceled() bool
}

// Notifier receives status and progress changes, e.g. the realtime hub.
type Notifier interface {
	SendOperationProgress(operationID string, current, total int, message string)
	SendOperationStatus(operationID, status string, details map[string]any)
}

// Operation is a snapshot of one queued, running or finished task.
type Operation struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Session    string     `json:"session,omitempty"`
	Status     string     `json:"status"`
	Current    int        `json:"current"`
	Total      int        `json:"total"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the operation reached a final state.
func (o Operation) Finished() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed || o.Status == StatusCanceled
}

type queuedOperation struct {
	op     Operation
	fn     OperationFunc
	ctx    context.Context
	cancel context.CancelFunc
}

// OperationQueue runs operations on a fixed number of workers in FIFO order.
type OperationQueue struct {
	mu         sync.RWMutex
	operations map[string]*queuedOperation
	finished   []string
	history    int
	closed     bool

	pending  chan *queuedOperation
	workers  int
	notifier Notifier
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewOperationQueue starts workers goroutines. notifier may be nil.
func NewOperationQueue(workers int, notifier Notifier) *OperationQueue {
	if workers <= 0 {
		workers = 2 // Default to 2 workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &OperationQueue{
		operations: make(map[string]*queuedOperation),
		history:    DefaultHistory,
		pending:    make(chan *queuedOperation, 100),
		workers:    workers,
		notifier:   notifier,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Enqueue adds a new operation and returns its snapshot.
func (q *OperationQueue) Enqueue(opType, session string, fn OperationFunc) (Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Operation{}, ErrShutdown
	}

	ctx, cancel := context.WithCancel(q.ctx)
	qo := &queuedOperation{
		op: Operation{
			ID:        ulid.Make().String(),
			Type:      opType,
			Session:   session,
			Status:    StatusQueued,
			Message:   "operation queued",
			CreatedAt: time.Now(),
		},
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case q.pending <- qo:
	default:
		cancel()
		return Operation{}, ErrQueueFull
	}
	q.operations[qo.op.ID] = qo
	log.Printf("[INFO] operation %s (%s %s) queued", qo.op.ID, opType, session)
	return qo.op, nil
}

// Cancel stops a queued or running operation.
func (q *OperationQueue) Cancel(id string) (Operation, error) {
	q.mu.Lock()
	qo, exists := q.operations[id]
	if !exists {
		q.mu.Unlock()
		return Operation{}, ErrNotFound
	}
	if qo.op.Finished() {
		op := qo.op
		q.mu.Unlock()
		return op, ErrFinished
	}
	qo.cancel()
	if qo.op.Status == StatusQueued {
		q.finishLocked(qo, StatusCanceled, "operation canceled before it started", "")
	}
	op := qo.op
	q.mu.Unlock()

	log.Printf("[INFO] operation %s canceled", id)
	if op.Finished() {
		q.notify(op)
	}
	return op, nil
}

// Get returns the snapshot of an operation.
func (q *OperationQueue) Get(id string) (Operation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	qo, ok := q.operations[id]
	if !ok {
		return Operation{}, false
	}
	return qo.op, true
}

// List returns every tracked operation, oldest first.
func (q *OperationQueue) List() []Operation {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Operation, 0, len(q.operations))
	for _, qo := range q.operations {
		out = append(out, qo.op)
	}
	sortByCreation(out)
	return out
}

func sortByCreation(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})
}

// ActiveOperations returns the operations that are queued or running.
func (q *OperationQueue) ActiveOperations() []Operation {
	var out []Operation
	for _, op := range q.List() {
		if !op.Finished() {
			out = append(out, op)
		}
	}
	return out
}

// Wait blocks until the operation finished or ctx is done.
func (q *OperationQueue) Wait(ctx context.Context, id string) (Operation, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		op, ok := q.Get(id)
		if !ok {
			return Operation{}, ErrNotFound
		}
		if op.Finished() {
			return op, nil
		}
		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *OperationQueue) worker(id int) {
	defer q.wg.Done()
	log.Printf("[DEBUG] operation worker %d started", id)

	for {
		select {
		case <-q.ctx.Done():
			log.Printf("[DEBUG] operation worker %d stopped", id)
			return
		case qo := <-q.pending:
			q.run(qo)
		}
	}
}

func (q *OperationQueue) run(qo *queuedOperation) {
	q.mu.Lock()
	if qo.op.Finished() {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	qo.op.Status = StatusRunning
	qo.op.StartedAt = &now
	qo.op.Message = "operation started"
	op := qo.op
	q.mu.Unlock()

	q.notify(op)
	metrics.IncOperationStarted()

	reporter := &progressReporter{queue: q, qo: qo}
	err := qo.fn(qo.ctx, reporter)

	q.mu.Lock()
	switch {
	case qo.ctx.Err() != nil:
		q.finishLocked(qo, StatusCanceled, "operation canceled", "")
	case err != nil:
		q.finishLocked(qo, StatusFailed, "operation failed", err.Error())
	default:
		message := "operation completed"
		if qo.op.Total > 0 {
			message = qo.op.Message
		}
		q.finishLocked(qo, StatusCompleted, message, "")
	}
	op = qo.op
	q.mu.Unlock()
	qo.cancel()

	metrics.ObserveOperation(op.Type, op.Status, op.FinishedAt.Sub(*op.StartedAt))
	if err != nil {
		log.Printf("[WARN] operation %s (%s) %s: %v", op.ID, op.Type, op.Status, err)
	} else {
		log.Printf("[INFO] operation %s (%s) %s", op.ID, op.Type, op.Status)
	}
	q.notify(op)
}

// finishLocked records a final state and trims the finished history.
func (q *OperationQueue) finishLocked(qo *queuedOperation, status, message, errText string) {
	now := time.Now()
	qo.op.Status = status
	qo.op.Message = message
	qo.op.Error = errText
	qo.op.FinishedAt = &now
	if qo.op.StartedAt == nil {
		qo.op.StartedAt = &now
	}

	q.finished = append(q.finished, qo.op.ID)
	for len(q.finished) > q.history {
		delete(q.operations, q.finished[0])
		q.finished = q.finished[1:]
	}
}

func (q *OperationQueue) notify(op Operation) {
	if q.notifier == nil {
		return
	}
	details := map[string]any{"type": op.Type, "session": op.Session, "message": op.Message}
	if op.Error != "" {
		details["error"] = op.Error
	}
	q.notifier.SendOperationStatus(op.ID, op.Status, details)
}

// Shutdown cancels every operation and waits for the workers to exit.
func (q *OperationQueue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[INFO] operation queue shut down")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// progressReporter implements ProgressReporter
type progressReporter struct {
	queue *OperationQueue
	qo    *queuedOperation
}

func (r *progressReporter) UpdateProgress(current, total int, message string) {
	r.queue.mu.Lock()
	r.qo.op.Current = current
	r.qo.op.Total = total
	r.qo.op.Message = message
	id := r.qo.op.ID
	r.queue.mu.Unlock()

	if r.queue.notifier != nil {
		r.queue.notifier.SendOperationProgress(id, current, total, message)
	}
}

func (r *progressReporter) IsCanceled() bool {
	return r.qo.ctx.Err() != nil
}
