/*
Package store is the deployment document store: a BoltDB-backed, single-file
database holding one JSON document per deployment, keyed by deployment id.

It exposes exactly the operations the pipeline and orchestrator need: Get,
Upsert, MergeParameters, UpdateTask (locate a sub-task by id and overwrite it
in place), FindIncomplete (any deployment with a non-terminal task), and
FindBroken (any deployment with no end timestamp). Every write is
last-writer-wins at the document level; callers are responsible for the
single-writer-per-deployment discipline described alongside the orchestrator.
*/
package store
