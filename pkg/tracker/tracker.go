package tracker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/types"
)

// DefaultPollDelay is the fixed delay between polls.
const DefaultPollDelay = 1 * time.Second

// DefaultRetries is the polling horizon (~1h at the default delay).
const DefaultRetries = 3600

// PollFunc performs one poll against whatever the task represents (a remote
// task URL, an instance health endpoint, an ELB status check) and reports
// the task's current status and any new log lines. status must be one of
// "running", "completed", "failed", "terminated"; anything else is treated
// as still running.
type PollFunc func(ctx context.Context) (status string, newLog []types.LogEntry, err error)

func terminal(status string) bool {
	switch status {
	case "completed", "failed", "terminated":
		return true
	default:
		return false
	}
}

// Persister writes the task's merged state back to the deployment store.
type Persister func(ctx context.Context, deploymentID string, task *types.Task) error

// OnComplete is invoked exactly once when a poll reports a terminal status.
type OnComplete func(ctx context.Context, deploymentID string, task *types.Task)

// OnTimeout is invoked exactly once when the retry budget is exhausted
// without the task reaching a terminal status.
type OnTimeout func(ctx context.Context, deploymentID string, task *types.Task)

// Tracker schedules and executes polls on in-memory timers. It never
// recurses on the call stack: each poll reschedules itself as a fresh
// delayed job. Pending polls are not persisted and do not survive a process
// restart.
type Tracker struct {
	pollDelay time.Duration
	logger    zerolog.Logger
}

// New builds a Tracker using the default poll delay.
func New() *Tracker {
	return NewWithDelay(DefaultPollDelay)
}

// NewWithDelay builds a Tracker polling at a non-default cadence; tests use
// this to avoid real-time waits.
func NewWithDelay(delay time.Duration) *Tracker {
	return &Tracker{
		pollDelay: delay,
		logger:    log.WithComponent("tracker"),
	}
}

// Track schedules the first poll for task, after the fixed poll delay.
func (t *Tracker) Track(deploymentID string, task *types.Task, retries int, poll PollFunc, persist Persister, onComplete OnComplete, onTimeout OnTimeout) {
	time.AfterFunc(t.pollDelay, func() {
		t.poll(deploymentID, task, retries, poll, persist, onComplete, onTimeout)
	})
}

func (t *Tracker) poll(deploymentID string, task *types.Task, retries int, poll PollFunc, persist Persister, onComplete OnComplete, onTimeout OnTimeout) {
	ctx := context.Background()
	logger := t.logger.With().Str("task_id", task.TaskID).Str("deployment_id", deploymentID).Logger()

	status, newLog, err := poll(ctx)
	if err != nil {
		metrics.TrackerPollsTotal.WithLabelValues("poll-error").Inc()
		t.handlePollError(deploymentID, task, retries, err, poll, persist, onComplete, onTimeout, logger)
		return
	}

	task.Log = append(task.Log, newLog...)
	task.Status = mapRemoteStatus(status)

	if err := persist(ctx, deploymentID, task); err != nil {
		metrics.TrackerPollsTotal.WithLabelValues("persist-error").Inc()
		t.handlePollError(deploymentID, task, retries, err, poll, persist, onComplete, onTimeout, logger)
		return
	}

	if terminal(status) {
		metrics.TrackerPollsTotal.WithLabelValues("terminal").Inc()
		onComplete(ctx, deploymentID, task)
		return
	}

	if retries == 0 {
		metrics.TrackerPollsTotal.WithLabelValues("exhausted").Inc()
		metrics.TrackerRetriesExhaustedTotal.Inc()
		onTimeout(ctx, deploymentID, task)
		return
	}

	metrics.TrackerPollsTotal.WithLabelValues("rescheduled").Inc()
	t.Track(deploymentID, task, retries-1, poll, persist, onComplete, onTimeout)
}

func (t *Tracker) handlePollError(deploymentID string, task *types.Task, retries int, err error, poll PollFunc, persist Persister, onComplete OnComplete, onTimeout OnTimeout, logger zerolog.Logger) {
	if !isTransient(err) {
		logger.Error().Err(err).Msg("tracker poll failed with a non-transient error, halting")
		return
	}

	logger.Warn().Err(err).Int("retries_remaining", retries).Msg("tracker poll hit a transient error")

	if retries == 0 {
		onTimeout(context.Background(), deploymentID, task)
		return
	}

	t.Track(deploymentID, task, retries-1, poll, persist, onComplete, onTimeout)
}

func isTransient(err error) bool {
	return types.IsKind(err, types.KindTrackerTransient)
}

func mapRemoteStatus(remote string) types.TaskStatus {
	switch remote {
	case "completed":
		return types.TaskCompleted
	case "failed":
		return types.TaskFailed
	case "terminated":
		return types.TaskTerminated
	default:
		return types.TaskRunning
	}
}
