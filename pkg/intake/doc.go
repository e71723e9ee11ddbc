/*
Package intake is the boundary between an operator's deploy request and the
work queue: it validates the request, loads the merged parameters for the
target application/environment/region, persists a fresh deployment document,
and enqueues its id for the orchestrator's worker pool to pick up.

The HTTP surface in this package is a thin net/http ServeMux, not a full API
layer — the domain has no gRPC/mTLS peer to justify one. It performs a
fast, best-effort lock/in-progress pre-check so a rejected request fails
synchronously with the right status code; the orchestrator's own intake
path (pkg/orchestrator) re-checks both atomically when the queued message
is actually consumed, which is the enforcement point that matters.
*/
package intake
