package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/relay/pkg/kvstore"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/pipeline"
	"github.com/cuemby/relay/pkg/store"
	"github.com/cuemby/relay/pkg/types"
)

// Orchestrator enforces mutual exclusion at intake, answers the pipeline
// engine's boundary checks with the coordination store's pause/cancel state,
// and sweeps incomplete deployments back to life on restart.
type Orchestrator struct {
	kv     *kvstore.Client
	store  *store.Store
	engine *pipeline.Engine
	logger zerolog.Logger
}

// New builds an Orchestrator around an already-constructed pipeline engine.
// It does not wire the engine's BoundaryChecker and Finalizer hooks; the
// caller passes Boundary and Finalize to pipeline.New itself.
func New(kv *kvstore.Client, st *store.Store, engine *pipeline.Engine) *Orchestrator {
	o := &Orchestrator{
		kv:     kv,
		store:  st,
		engine: engine,
		logger: log.WithComponent("orchestrator"),
	}
	return o
}

// Boundary implements pipeline.BoundaryChecker: consulted by the engine
// between every pair of tasks.
func (o *Orchestrator) Boundary(ctx context.Context, d *types.Deployment) (pipeline.BoundaryDecision, error) {
	key := d.CoordinationKey()

	cancelled, err := o.kv.AwaitingCancel(ctx, key)
	if err != nil {
		return pipeline.BoundaryContinue, fmt.Errorf("orchestrator: check awaiting-cancel: %w", err)
	}
	if cancelled {
		return pipeline.BoundaryCancelled, nil
	}

	paused, err := o.kv.AwaitingPause(ctx, key)
	if err != nil {
		return pipeline.BoundaryContinue, fmt.Errorf("orchestrator: check awaiting-pause: %w", err)
	}
	if paused {
		if err := o.kv.RegisterPaused(ctx, key, d.DeploymentID); err != nil {
			return pipeline.BoundaryContinue, fmt.Errorf("orchestrator: register paused: %w", err)
		}
		if err := o.kv.RemoveAwaitingPause(ctx, key); err != nil {
			return pipeline.BoundaryContinue, fmt.Errorf("orchestrator: clear awaiting-pause: %w", err)
		}
		return pipeline.BoundaryPaused, nil
	}

	return pipeline.BoundaryContinue, nil
}

// Finalize implements pipeline.Finalizer: clears every coordination entry
// tied to a deployment that just reached its end.
func (o *Orchestrator) Finalize(ctx context.Context, d *types.Deployment) error {
	if err := o.kv.EndDeployment(ctx, d.CoordinationKey()); err != nil {
		return fmt.Errorf("orchestrator: finalize: %w", err)
	}
	return nil
}

// Intake enforces the global lock and mutual exclusion, then starts the
// deployment's first task. d must already be persisted by the intake
// adapter.
func (o *Orchestrator) Intake(ctx context.Context, d *types.Deployment) error {
	locked, err := o.kv.Locked(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: check lock: %w", err)
	}
	if locked {
		return types.NewError(types.KindLocked, "intake is locked")
	}

	key := d.CoordinationKey()
	ok, err := o.kv.RegisterInProgress(ctx, key, d.DeploymentID)
	if err != nil {
		return fmt.Errorf("orchestrator: register in-progress: %w", err)
	}
	if !ok {
		metrics.MutualExclusionRejectionsTotal.Inc()
		return types.NewError(types.KindAlreadyInProgress, fmt.Sprintf("%s already has a deployment in progress", key))
	}

	return o.engine.StartTask(ctx, d, d.Tasks[0])
}

// Resume clears a deployment's paused state and restarts its pipeline from
// the next task.
func (o *Orchestrator) Resume(ctx context.Context, application, environment, region string) error {
	key := types.CoordinationKey(application, environment, region)

	id, ok, err := o.kv.PausedID(ctx, key)
	if err != nil {
		return fmt.Errorf("orchestrator: resume: load paused id: %w", err)
	}
	if !ok {
		return types.NewError(types.KindValidation, fmt.Sprintf("%s is not paused", key))
	}

	if err := o.kv.Resume(ctx, key); err != nil {
		return fmt.Errorf("orchestrator: resume: %w", err)
	}

	d, err := o.store.Get(id)
	if err != nil {
		return fmt.Errorf("orchestrator: resume: load deployment: %w", err)
	}

	next, _, found := d.FirstNonTerminalTask()
	if !found {
		return o.Finalize(ctx, d)
	}

	return o.engine.StartTask(ctx, d, next)
}

// Pause requests that the in-flight deployment for (application, environment,
// region) suspend at its next task boundary. It is a no-op request against a
// key with nothing running; the boundary check only fires for deployments
// actually in progress.
func (o *Orchestrator) Pause(ctx context.Context, application, environment, region string) error {
	key := types.CoordinationKey(application, environment, region)
	if _, err := o.kv.RegisterAwaitingPause(ctx, key); err != nil {
		return fmt.Errorf("orchestrator: pause: %w", err)
	}
	return nil
}

// Cancel requests that the in-flight deployment for (application,
// environment, region) be cancelled at its next task boundary.
func (o *Orchestrator) Cancel(ctx context.Context, application, environment, region string) error {
	key := types.CoordinationKey(application, environment, region)
	if _, err := o.kv.RegisterAwaitingCancel(ctx, key); err != nil {
		return fmt.Errorf("orchestrator: cancel: %w", err)
	}
	return nil
}

// StatusByKey reports the deployment currently in progress or paused for
// (application, environment, region), if any.
func (o *Orchestrator) StatusByKey(ctx context.Context, application, environment, region string) (*types.Deployment, error) {
	key := types.CoordinationKey(application, environment, region)

	if id, ok, err := o.kv.InProgressID(ctx, key); err != nil {
		return nil, fmt.Errorf("orchestrator: status: in-progress lookup: %w", err)
	} else if ok {
		return o.store.Get(id)
	}

	if id, ok, err := o.kv.PausedID(ctx, key); err != nil {
		return nil, fmt.Errorf("orchestrator: status: paused lookup: %w", err)
	} else if ok {
		return o.store.Get(id)
	}

	return nil, types.NewError(types.KindValidation, fmt.Sprintf("no deployment in progress for %s", key))
}

// Sweep restarts every incomplete deployment whose in-progress mapping is
// still present, picking up from its first non-terminal task. Deployments
// whose mapping was cleared by an operator are left for find_broken to
// surface, since that predicate (no end) already identifies them.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	incomplete, err := o.store.FindIncomplete()
	if err != nil {
		return fmt.Errorf("orchestrator: sweep: find incomplete: %w", err)
	}

	for _, d := range incomplete {
		key := d.CoordinationKey()
		id, ok, err := o.kv.InProgressID(ctx, key)
		if err != nil {
			o.logger.Error().Err(err).Str("deployment_id", d.DeploymentID).Msg("sweep: in-progress lookup failed")
			continue
		}
		if !ok || id != d.DeploymentID {
			o.logger.Warn().Str("deployment_id", d.DeploymentID).Str("key", key).
				Msg("sweep: in-progress mapping absent, leaving deployment for manual triage")
			continue
		}

		next, _, found := d.FirstNonTerminalTask()
		if !found {
			continue
		}

		o.logger.Info().Str("deployment_id", d.DeploymentID).Str("task_id", next.TaskID).
			Msg("sweep: resuming interrupted deployment")
		if err := o.engine.StartTask(ctx, d, next); err != nil {
			o.logger.Error().Err(err).Str("deployment_id", d.DeploymentID).Msg("sweep: resume failed")
		}
	}
	return nil
}

// ConsumeIntake wires a kvstore.Consumer handler that unmarshals an enqueued
// deployment id, loads it, and runs it through Intake.
func (o *Orchestrator) ConsumeIntake(ctx context.Context, payload []byte) error {
	var msg struct {
		DeploymentID string `json:"deployment_id"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("orchestrator: decode queue message: %w", err)
	}

	d, err := o.store.Get(msg.DeploymentID)
	if err != nil {
		return fmt.Errorf("orchestrator: load queued deployment: %w", err)
	}

	if err := o.Intake(ctx, d); err != nil {
		if types.IsKind(err, types.KindAlreadyInProgress) || types.IsKind(err, types.KindLocked) {
			o.logger.Warn().Err(err).Str("deployment_id", d.DeploymentID).Msg("intake rejected")
			return nil
		}
		return err
	}
	return nil
}
