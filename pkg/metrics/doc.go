/*
Package metrics registers and exposes Prometheus metrics for the deployment
orchestrator: deployment outcomes and duration, per-task counts and duration,
tracker poll outcomes, queue depth, and the intake API's request rate and
latency. All metrics are registered at package init via prometheus.MustRegister
and exposed through Handler() for a /metrics endpoint.

Timer is a small helper for timing an operation and recording it to a
histogram or histogram vector once the operation finishes.

This package also carries a small component health registry (RegisterComponent,
GetHealth, GetReadiness) used to back /health, /ready, and /live endpoints.
*/
package metrics
