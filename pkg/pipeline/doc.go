/*
Package pipeline is the per-deployment state machine: it selects the next
task by fixed ordering, applies skip rules, dispatches each action to the
remote ASG service, and wires the tracker's terminal callbacks back to
advance or finalize the deployment.

Boundary decisions (pause/cancel) and final cleanup (in-progress/paused/
awaiting-* bookkeeping) are owned by the orchestrator and reached through the
BoundaryChecker and Finalizer hooks injected at construction; the engine
itself only knows how to run one deployment's task list to completion.
*/
package pipeline
