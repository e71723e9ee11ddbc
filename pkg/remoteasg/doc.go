/*
Package remoteasg is a thin HTTP JSON client for the remote auto-scaling-group
management service the pipeline drives: create/create-next ASG, mutate
(delete/resize/enable/disable), and task-status fetch.

It carries conservative connect/read timeouts, never treats a non-2xx
response as a Go error (callers inspect the status code themselves), and
normalizes the remote service's log-line and update-time formats into
standard Go types on the way in. Parameter transformation (security-group
name-to-id, zone region-prefixing, internal-subnet load-balancer renaming)
lives alongside the client since it only matters on the way out to this one
service.
*/
package remoteasg
