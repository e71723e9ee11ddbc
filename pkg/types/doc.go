/*
Package types defines the core data structures shared across the deployment
orchestrator: deployments, their ordered task lists, merged parameters, the
coordination-store entry shapes, and the closed set of error kinds the rest of
the system raises.

# Core Types

Deployment:
  - Deployment: a persistent document identified by an opaque DeploymentID
  - Task: one step of a deployment's fixed, ordered pipeline
  - TaskAction: the closed enum of pipeline steps (create-asg, wait-for-instance-health, ...)
  - TaskStatus: pending, running, completed, failed, terminated, skipped
  - LogEntry: a single timestamped line appended to a task's log

Parameters:
  - Parameters: the merged per-deployment parameter map (defaults, user, protected)

Coordination:
  - CoordinationKey: the "app-env-region" key used by every coordination entry

Errors:
  - Kind: the closed enum of error kinds raised by the pipeline, tracker, and orchestrator
  - Error: a Kind plus a human-readable message, usable with errors.As

# Thread Safety

Deployment and Task values are read-safe for concurrent reads once persisted.
Mutation is the responsibility of the single worker that owns a deployment id
at a given time (see the orchestrator's single-writer-per-deployment rule);
this package applies no locking of its own.
*/
package types
