// file: internal/operations/queue_test.go
// version: 2.1.0
// guid: 3e8f1a2b-4c5d-6e7f-8a9b-0c1d2e3f4a5b

package operations

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
	progress []int
}

func (n *recordingNotifier) SendOperationProgress(_ string, current, _ int, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, current)
}

func (n *recordingNotifier) SendOperationStatus(_ string, status string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

func (n *recordingNotifier) snapshot() ([]string, []int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.statuses...), append([]int(nil), n.progress...)
}

func newQueue(t *testing.T, workers int, n Notifier) *OperationQueue {
	t.Helper()
	q := NewOperationQueue(workers, n)
	t.Cleanup(func() { _ = q.Shutdown(time.Second) })
	return q
}

func waitFor(t *testing.T, q *OperationQueue, id string) Operation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	op, err := q.Wait(ctx, id)
	require.NoError(t, err)
	return op
}

func TestNewOperationQueue_DefaultWorkers(t *testing.T) {
	q := newQueue(t, 0, nil)
	assert.Equal(t, 2, q.workers)
	assert.Empty(t, q.List())
}

func TestOperationQueue_CompletesWithProgress(t *testing.T) {
	n := &recordingNotifier{}
	q := newQueue(t, 1, n)

	op, err := q.Enqueue("index", "regular", func(ctx context.Context, p ProgressReporter) error {
		p.UpdateProgress(0, 2, "loading dataset")
		p.UpdateProgress(2, 2, "indexed 10 records")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, op.Status)
	assert.Len(t, op.ID, 26)

	done := waitFor(t, q, op.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "regular", done.Session)
	assert.Equal(t, 2, done.Current)
	assert.Equal(t, 2, done.Total)
	assert.Equal(t, "indexed 10 records", done.Message)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	assert.False(t, done.FinishedAt.Before(*done.StartedAt))

	assert.Eventually(t, func() bool {
		statuses, _ := n.snapshot()
		return len(statuses) == 2
	}, time.Second, 5*time.Millisecond)
	statuses, progress := n.snapshot()
	assert.Equal(t, []string{StatusRunning, StatusCompleted}, statuses)
	assert.Equal(t, []int{0, 2}, progress)
}

func TestOperationQueue_Failure(t *testing.T) {
	q := newQueue(t, 1, nil)

	op, err := q.Enqueue("preload", "regular", func(ctx context.Context, p ProgressReporter) error {
		return errors.New("manifest unreachable")
	})
	require.NoError(t, err)

	done := waitFor(t, q, op.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, "manifest unreachable", done.Error)
}

func TestOperationQueue_CancelRunning(t *testing.T) {
	q := newQueue(t, 1, nil)
	started := make(chan struct{})

	op, err := q.Enqueue("index", "regular", func(ctx context.Context, p ProgressReporter) error {
		close(started)
		<-ctx.Done()
		assert.True(t, p.IsCanceled())
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	snap, err := q.Cancel(op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)

	done := waitFor(t, q, op.ID)
	assert.Equal(t, StatusCanceled, done.Status)
	assert.Empty(t, done.Error)

	_, err = q.Cancel(op.ID)
	assert.ErrorIs(t, err, ErrFinished)
	_, err = q.Cancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOperationQueue_CancelQueued(t *testing.T) {
	q := newQueue(t, 1, nil)
	release := make(chan struct{})
	var ran atomic.Bool

	first, err := q.Enqueue("preload", "regular", func(ctx context.Context, p ProgressReporter) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	second, err := q.Enqueue("preload", "complementary", func(ctx context.Context, p ProgressReporter) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	snap, err := q.Cancel(second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, snap.Status)
	assert.Len(t, q.ActiveOperations(), 1)

	close(release)
	assert.Equal(t, StatusCompleted, waitFor(t, q, first.ID).Status)
	// The worker skips the canceled entry; a third operation proves it moved on.
	third, err := q.Enqueue("preload", "regular", func(ctx context.Context, p ProgressReporter) error { return nil })
	require.NoError(t, err)
	waitFor(t, q, third.ID)
	assert.False(t, ran.Load())
}

func TestOperationQueue_ListAndHistory(t *testing.T) {
	q := newQueue(t, 1, nil)
	q.history = 2

	var ids []string
	for i := 0; i < 3; i++ {
		op, err := q.Enqueue("preload", "regular", func(ctx context.Context, p ProgressReporter) error { return nil })
		require.NoError(t, err)
		waitFor(t, q, op.ID)
		ids = append(ids, op.ID)
	}

	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)
	_, ok := q.Get(ids[0])
	assert.False(t, ok)
	assert.Empty(t, q.ActiveOperations())
}

func TestOperationQueue_QueueFull(t *testing.T) {
	q := newQueue(t, 1, nil)
	release := make(chan struct{})
	defer close(release)
	block := func(ctx context.Context, p ProgressReporter) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	var err error
	for i := 0; i < cap(q.pending)+2 && err == nil; i++ {
		_, err = q.Enqueue("preload", "regular", block)
	}
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestOperationQueue_Shutdown(t *testing.T) {
	q := NewOperationQueue(2, nil)
	started := make(chan struct{})
	op, err := q.Enqueue("index", "regular", func(ctx context.Context, p ProgressReporter) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	require.NoError(t, q.Shutdown(time.Second))
	require.NoError(t, q.Shutdown(time.Second))

	got, ok := q.Get(op.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCanceled, got.Status)

	_, err = q.Enqueue("preload", "regular", func(ctx context.Context, p ProgressReporter) error { return nil })
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestOperationQueue_WaitUnknown(t *testing.T) {
	q := newQueue(t, 1, nil)
	_, err := q.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOperation_Finished(t *testing.T) {
	for status, want := range map[string]bool{
		StatusQueued:    false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCanceled:  true,
	} {
		assert.Equal(t, want, Operation{Status: status}.Finished(), status)
	}
}
