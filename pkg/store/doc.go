// Package store defines the shared-state boundary for courtroom sessions.
//
// Every cross-client invariant in the system (stage monotonicity, readiness
// consensus, intervention dedupe) is enforced through this interface's
// compare-and-swap Transact primitive. Two backends are provided: an
// in-process versioned map for tests and single-node runs, and a NATS
// JetStream KeyValue bucket for replicated deployments.
package store
