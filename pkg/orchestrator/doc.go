/*
Package orchestrator owns every concern pipeline.Engine is deliberately blind
to: mutual exclusion at intake, pause/cancel bookkeeping at task boundaries,
and the restart sweep that resumes deployments interrupted by a process
restart.

It wires pkg/kvstore (coordination), pkg/store (deployment documents), and
pkg/pipeline (the per-deployment state machine) together behind a small
surface the work-queue consumer and the restart sweep both call into.
*/
package orchestrator
