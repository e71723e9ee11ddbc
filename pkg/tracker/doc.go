/*
Package tracker polls a remote task URL on an in-memory timer until the task
reaches a terminal remote status or the retry budget is exhausted.

It never recurses in the call-stack sense: each poll reschedules itself as a
fresh delayed job on time.AfterFunc. Those timers live only in process
memory; a restart drops every pending poll, and the orchestrator's restart
sweep starts the interrupted task again. Transient failures
(classified http or store) consume one retry and reschedule; anything else
propagates to the caller's logs and stops polling outright, leaving the
deployment for the restart sweep to pick back up.
*/
package tracker
