/*
Package kvstore is the coordination-layer client: a typed wrapper over Redis
exposing exactly the primitives the orchestrator needs — the global advisory
lock, the in-progress/paused hashes, the awaiting-pause/awaiting-cancel sets,
and a persistent FIFO work queue consumed by a worker pool with per-message
leases.

Every coordination key lives under a configured prefix, matching the layout
in the external-interfaces contract: "{prefix}:deployments:{suffix}" and
"{prefix}:lock".
*/
package kvstore
