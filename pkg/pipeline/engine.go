package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/remoteasg"
	"github.com/cuemby/relay/pkg/store"
	"github.com/cuemby/relay/pkg/tracker"
	"github.com/cuemby/relay/pkg/types"
)

// BoundaryDecision is what the orchestrator wants done at a task boundary.
type BoundaryDecision int

const (
	BoundaryContinue BoundaryDecision = iota
	BoundaryPaused
	BoundaryCancelled
)

// BoundaryChecker is consulted by the engine between every pair of tasks. It
// is also responsible for any side effects a pause/cancel decision implies
// (registering the paused map entry, clearing awaiting-pause) since those
// are coordination-store concerns the engine does not own.
type BoundaryChecker func(ctx context.Context, d *types.Deployment) (BoundaryDecision, error)

// Finalizer runs once a deployment reaches its end, successfully or not. It
// owns removing the in-progress entry and any pause/cancel bookkeeping.
type Finalizer func(ctx context.Context, d *types.Deployment) error

// Engine runs one deployment's task list from task to task.
type Engine struct {
	store     *store.Store
	remote    *remoteasg.Client
	tracker   *tracker.Tracker
	vpcID     string
	resolveSG remoteasg.SecurityGroupResolver
	boundary  BoundaryChecker
	finalize  Finalizer
	handlers  map[types.TaskAction]actionHandler
}

type actionOutcome struct {
	immediate bool
	log       []types.LogEntry
	taskURL   string
	poll      tracker.PollFunc
}

type actionHandler func(ctx context.Context, d *types.Deployment, task *types.Task) (actionOutcome, error)

// New builds an Engine. tr is shared across all deployments; store is the
// deployment document store; remote talks to the ASG management service.
func New(st *store.Store, remote *remoteasg.Client, tr *tracker.Tracker, vpcID string, resolveSG remoteasg.SecurityGroupResolver, boundary BoundaryChecker, finalize Finalizer) *Engine {
	e := &Engine{
		store:     st,
		remote:    remote,
		tracker:   tr,
		vpcID:     vpcID,
		resolveSG: resolveSG,
		boundary:  boundary,
		finalize:  finalize,
	}
	e.handlers = map[types.TaskAction]actionHandler{
		types.ActionCreateASG:          e.handleCreateASG,
		types.ActionWaitInstanceHealth: e.handleInheritPoll,
		types.ActionEnableASG:          e.handleEnableASG,
		types.ActionWaitELBHealth:      e.handleInheritPoll,
		types.ActionDisableASG:         e.handleDisableASG,
		types.ActionDeleteASG:          e.handleDeleteASG,
	}
	return e
}

// skipReason reports whether task's action should be skipped given the
// deployment's current parameters, and the log line to record if so.
func skipReason(action types.TaskAction, d *types.Deployment) (string, bool) {
	switch action {
	case types.ActionWaitInstanceHealth:
		if d.Parameters.Min() == 0 {
			return "Skipping instance healthcheck", true
		}
	case types.ActionWaitELBHealth:
		if d.Parameters.HealthCheckType() != "ELB" || len(d.Parameters.SelectedLoadBalancers()) == 0 {
			return "Skipping ELB healthcheck", true
		}
	case types.ActionDisableASG:
		if d.Parameters.OldASGName() == "" {
			return "Skipping disable-asg (no previous ASG)", true
		}
	case types.ActionDeleteASG:
		if d.Parameters.OldASGName() == "" {
			return "Skipping delete-asg (no previous ASG)", true
		}
	}
	return "", false
}

// StartTask begins task, applying skip rules, dispatching to the action
// handler, and either finishing it in-line (skip, immediate success) or
// starting the tracker against the task URL the handler returned.
func (e *Engine) StartTask(ctx context.Context, d *types.Deployment, task *types.Task) error {
	logger := log.WithDeploymentID(d.DeploymentID)
	now := time.Now()
	task.Start = &now

	if d.Start == nil {
		d.Start = &now
		if err := e.store.Upsert(d); err != nil {
			logger.Warn().Err(err).Msg("failed to persist deployment start")
		}
	}

	if reason, skip := skipReason(task.Action, d); skip {
		task.AppendLog(now, reason)
		task.Status = types.TaskSkipped
		return e.finishTask(ctx, d.DeploymentID, task)
	}

	handler, ok := e.handlers[task.Action]
	if !ok {
		return e.failTask(ctx, d, task, types.NewError(types.KindValidation, fmt.Sprintf("unrecognized task action %q", task.Action)))
	}

	outcome, err := handler(ctx, d, task)
	if err != nil {
		return e.failTask(ctx, d, task, err)
	}

	if outcome.immediate {
		task.URL = outcome.taskURL
		task.Log = append(task.Log, outcome.log...)
		task.Status = types.TaskCompleted
		return e.finishTask(ctx, d.DeploymentID, task)
	}

	task.URL = outcome.taskURL
	task.Status = types.TaskRunning
	if err := e.store.UpdateTask(d.DeploymentID, task); err != nil {
		logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("failed to persist task start")
	}
	metrics.TasksTotal.WithLabelValues(string(task.Action), "started").Inc()

	deploymentID := d.DeploymentID
	e.tracker.Track(deploymentID, task, tracker.DefaultRetries, outcome.poll, e.persistTask,
		func(ctx context.Context, deploymentID string, task *types.Task) {
			_ = e.finishTask(ctx, deploymentID, task)
		},
		func(ctx context.Context, deploymentID string, task *types.Task) {
			e.timeoutTask(ctx, deploymentID, task)
		},
	)
	return nil
}

func (e *Engine) persistTask(ctx context.Context, deploymentID string, task *types.Task) error {
	if err := e.store.UpdateTask(deploymentID, task); err != nil {
		return types.WrapError(types.KindTrackerTransient, "persist tracked task", err)
	}
	return nil
}

// finishTask is the shared continuation for a task that just reached a
// terminal status (completed or skipped in-line, or any terminal remote
// status the tracker reported): persist it, fold any side-effect parameters back
// into the deployment, then either finalize or advance.
func (e *Engine) finishTask(ctx context.Context, deploymentID string, task *types.Task) error {
	now := time.Now()
	task.End = &now

	d, err := e.store.Get(deploymentID)
	if err != nil {
		return fmt.Errorf("pipeline: finish task: load deployment: %w", err)
	}

	_, index, found := d.FindTask(task.TaskID)
	if !found {
		return types.NewError(types.KindTaskMissing, fmt.Sprintf("task %s not found on deployment %s", task.TaskID, deploymentID))
	}
	d.Tasks[index] = task

	if task.Action == types.ActionCreateASG {
		if name, ok := remoteasg.ExtractNewASGName(task.Log); ok && d.Parameters.NewASGName() == "" {
			d.Parameters = types.MergeParameters(d.Parameters, types.Parameters{"new_asg_name": name}, nil)
		}
	}

	metrics.TasksTotal.WithLabelValues(string(task.Action), string(task.Status)).Inc()
	if task.Start != nil {
		metrics.TaskDuration.WithLabelValues(string(task.Action)).Observe(task.End.Sub(*task.Start).Seconds())
	}

	next, hasNext := d.TaskAfter(index)
	if !hasNext {
		return e.finalizeDeployment(ctx, d)
	}

	if err := e.store.Upsert(d); err != nil {
		return fmt.Errorf("pipeline: persist deployment after task finish: %w", err)
	}

	decision, err := e.boundary(ctx, d)
	if err != nil {
		return fmt.Errorf("pipeline: boundary check: %w", err)
	}

	switch decision {
	case BoundaryCancelled:
		return e.cancelRemaining(ctx, d, index+1)
	case BoundaryPaused:
		return nil
	default:
		return e.StartTask(ctx, d, next)
	}
}

func (e *Engine) timeoutTask(ctx context.Context, deploymentID string, task *types.Task) {
	now := time.Now()
	task.End = &now
	task.Status = types.TaskFailed

	d, err := e.store.Get(deploymentID)
	if err != nil {
		log.Logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("pipeline: timeout: load deployment failed")
		return
	}
	_, index, found := d.FindTask(task.TaskID)
	if found {
		d.Tasks[index] = task
	}
	metrics.TasksTotal.WithLabelValues(string(task.Action), "failed").Inc()

	if err := e.finalizeDeployment(ctx, d); err != nil {
		log.Logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("pipeline: finalize after timeout failed")
	}
}

func (e *Engine) failTask(ctx context.Context, d *types.Deployment, task *types.Task, cause error) error {
	now := time.Now()
	task.End = &now
	task.Status = types.TaskFailed
	task.AppendLog(now, cause.Error())

	_, index, found := d.FindTask(task.TaskID)
	if found {
		d.Tasks[index] = task
	}
	metrics.TasksTotal.WithLabelValues(string(task.Action), "failed").Inc()

	if err := e.finalizeDeployment(ctx, d); err != nil {
		return err
	}
	return cause
}

func (e *Engine) cancelRemaining(ctx context.Context, d *types.Deployment, fromIndex int) error {
	for i := fromIndex; i < len(d.Tasks); i++ {
		d.Tasks[i].Status = types.TaskSkipped
	}
	return e.finalizeDeployment(ctx, d)
}

func (e *Engine) finalizeDeployment(ctx context.Context, d *types.Deployment) error {
	now := time.Now()
	d.End = &now
	if err := e.store.Upsert(d); err != nil {
		return fmt.Errorf("pipeline: persist finalized deployment: %w", err)
	}
	metrics.DeploymentsTotal.WithLabelValues(outcomeOf(d)).Inc()
	if d.Start != nil {
		metrics.DeploymentDuration.WithLabelValues(d.Application, d.Environment).Observe(d.End.Sub(*d.Start).Seconds())
	}
	return e.finalize(ctx, d)
}

func outcomeOf(d *types.Deployment) string {
	for _, t := range d.Tasks {
		if t.Status == types.TaskFailed {
			return "failed"
		}
	}
	for _, t := range d.Tasks {
		if t.Status == types.TaskSkipped {
			return "cancelled"
		}
	}
	return "completed"
}

// handleCreateASG dispatches either a create-new or create-next-generation
// call depending on whether the deployment already knows about a prior ASG
// for this cluster.
func (e *Engine) handleCreateASG(ctx context.Context, d *types.Deployment, task *types.Task) (actionOutcome, error) {
	form, err := remoteasg.BuildForm(ctx, d.Region, e.vpcID, d.Parameters, e.resolveSG)
	if err != nil {
		return actionOutcome{}, err
	}

	if old := d.Parameters.OldASGName(); old != "" {
		location, err := e.remote.CreateNextASG(ctx, d.Region, form)
		if err != nil {
			return actionOutcome{}, err
		}
		return actionOutcome{taskURL: location, poll: e.remoteTaskPoll(location)}, nil
	}

	location, err := e.remote.CreateNewASG(ctx, d.Region, form)
	if err != nil {
		return actionOutcome{}, err
	}
	name := newASGNameFromLocation(location)
	// finishTask extracts new_asg_name from the task log via the same
	// pattern the remote service itself uses for the create-next flow, so
	// the merge lands regardless of which create path ran. The show-page
	// location is kept as the task URL so wait-for-instance-health has a
	// real endpoint to inherit on a fresh cluster.
	return actionOutcome{
		immediate: true,
		taskURL:   location,
		log:       []types.LogEntry{{Timestamp: time.Now(), Message: fmt.Sprintf("Creating auto scaling group '%s'", name)}},
	}, nil
}

// handleInheritPoll is used by wait-for-instance-health and
// wait-for-elb-health: both observe the health of instances the preceding
// task (create-asg or enable-asg) already set in motion on the remote side,
// so they continue polling that task's URL rather than starting a new one.
func (e *Engine) handleInheritPoll(ctx context.Context, d *types.Deployment, task *types.Task) (actionOutcome, error) {
	_, index, found := d.FindTask(task.TaskID)
	if !found || index == 0 || d.Tasks[index-1].URL == "" {
		return actionOutcome{}, types.NewError(types.KindTaskMissing, "no prior task URL to poll for instance/ELB health")
	}
	url := d.Tasks[index-1].URL
	return actionOutcome{taskURL: url, poll: e.remoteTaskPoll(url)}, nil
}

func (e *Engine) handleEnableASG(ctx context.Context, d *types.Deployment, task *types.Task) (actionOutcome, error) {
	name := d.Parameters.NewASGName()
	if name == "" {
		return actionOutcome{}, types.NewError(types.KindMissingASG, "enable-asg: no new_asg_name")
	}
	location, err := e.remote.Mutate(ctx, d.Region, remoteasg.ActionActivate, name, d.DeploymentID)
	if err != nil {
		return actionOutcome{}, err
	}
	return actionOutcome{taskURL: location, poll: e.remoteTaskPoll(location)}, nil
}

func (e *Engine) handleDisableASG(ctx context.Context, d *types.Deployment, task *types.Task) (actionOutcome, error) {
	name := d.Parameters.OldASGName()
	if name == "" {
		return actionOutcome{}, types.NewError(types.KindMissingASG, "disable-asg: no old_asg_name")
	}
	location, err := e.remote.Mutate(ctx, d.Region, remoteasg.ActionDeactivate, name, d.DeploymentID)
	if err != nil {
		return actionOutcome{}, err
	}
	return actionOutcome{taskURL: location, poll: e.remoteTaskPoll(location)}, nil
}

func (e *Engine) handleDeleteASG(ctx context.Context, d *types.Deployment, task *types.Task) (actionOutcome, error) {
	name := d.Parameters.OldASGName()
	if name == "" {
		return actionOutcome{}, types.NewError(types.KindMissingASG, "delete-asg: no old_asg_name")
	}
	location, err := e.remote.Mutate(ctx, d.Region, remoteasg.ActionDelete, name, d.DeploymentID)
	if err != nil {
		return actionOutcome{}, err
	}
	return actionOutcome{taskURL: location, poll: e.remoteTaskPoll(location)}, nil
}

func (e *Engine) remoteTaskPoll(taskURL string) tracker.PollFunc {
	return func(ctx context.Context) (string, []types.LogEntry, error) {
		status, err := e.remote.FetchTaskStatus(ctx, taskURL)
		if err != nil {
			return "", nil, err
		}
		return status.Status, status.Log, nil
	}
}

func newASGNameFromLocation(location string) string {
	idx := strings.LastIndex(location, "/")
	if idx < 0 {
		return location
	}
	return location[idx+1:]
}
