// Package stage drives a courtroom session through its ordered, timed
// procedure. The state machine is replicated: every participant's client
// holds an instance, and all cross-client invariants (one transition per
// stage, readiness consensus, single-host timer authority) are enforced
// by compare-and-swap transactions on the shared session record rather
// than by any process-local lock.
package stage
