package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/relay/pkg/types"
)

func noopPersist(_ context.Context, _ string, _ *types.Task) error { return nil }

func newFastTracker() *Tracker {
	return NewWithDelay(5 * time.Millisecond)
}

func TestTrackCallsOnCompleteOnTerminalStatus(t *testing.T) {
	tr := newFastTracker()
	var calls int32

	poll := func(ctx context.Context) (string, []types.LogEntry, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return "running", nil, nil
		}
		return "completed", nil, nil
	}

	done := make(chan *types.Task, 1)
	task := &types.Task{TaskID: "t1", URL: "http://remote/task/1"}

	tr.Track("deployment-1", task, 5, poll, noopPersist, func(ctx context.Context, id string, task *types.Task) {
		done <- task
	}, func(ctx context.Context, id string, task *types.Task) {
		t.Fatal("on_timeout should not be called")
	})

	select {
	case finished := <-done:
		assert.Equal(t, types.TaskCompleted, finished.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_complete")
	}
}

func TestTrackCallsOnTimeoutWhenRetriesExhausted(t *testing.T) {
	tr := newFastTracker()
	poll := func(ctx context.Context) (string, []types.LogEntry, error) {
		return "running", nil, nil
	}

	done := make(chan struct{}, 1)
	task := &types.Task{TaskID: "t1", URL: "http://remote/task/1"}

	tr.Track("deployment-1", task, 0, poll, noopPersist, func(ctx context.Context, id string, task *types.Task) {
		t.Fatal("on_complete should not be called")
	}, func(ctx context.Context, id string, task *types.Task) {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_timeout")
	}
}

func TestTrackRetriesOnTransientError(t *testing.T) {
	tr := newFastTracker()
	var calls int32
	transientErr := types.NewError(types.KindTrackerTransient, "connection reset")

	poll := func(ctx context.Context) (string, []types.LogEntry, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "", nil, transientErr
		}
		return "completed", nil, nil
	}

	done := make(chan struct{}, 1)
	task := &types.Task{TaskID: "t1", URL: "http://remote/task/1"}

	tr.Track("deployment-1", task, 5, poll, noopPersist, func(ctx context.Context, id string, task *types.Task) {
		close(done)
	}, func(ctx context.Context, id string, task *types.Task) {
		t.Fatal("on_timeout should not be called")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for on_complete after transient retry")
	}
}

func TestTrackStopsOnNonTransientError(t *testing.T) {
	tr := newFastTracker()
	poll := func(ctx context.Context) (string, []types.LogEntry, error) {
		return "", nil, types.NewError(types.KindUnexpectedResponse, "malformed response")
	}

	called := make(chan struct{}, 2)
	task := &types.Task{TaskID: "t1", URL: "http://remote/task/1"}

	tr.Track("deployment-1", task, 5, poll, noopPersist, func(ctx context.Context, id string, task *types.Task) {
		called <- struct{}{}
	}, func(ctx context.Context, id string, task *types.Task) {
		called <- struct{}{}
	})

	select {
	case <-called:
		t.Fatal("neither callback should fire for a non-transient error")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTrackPersistsMergedTask(t *testing.T) {
	tr := newFastTracker()
	poll := func(ctx context.Context) (string, []types.LogEntry, error) {
		return "completed", nil, nil
	}

	var persisted *types.Task
	var mu sync.Mutex
	persist := func(_ context.Context, _ string, task *types.Task) error {
		mu.Lock()
		defer mu.Unlock()
		persisted = task
		return nil
	}

	done := make(chan struct{})
	task := &types.Task{TaskID: "t1", URL: "http://remote/task/1"}
	tr.Track("deployment-1", task, 5, poll, persist, func(ctx context.Context, id string, task *types.Task) {
		close(done)
	}, func(ctx context.Context, id string, task *types.Task) {})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, persisted)
	assert.Equal(t, types.TaskCompleted, persisted.Status)
}
