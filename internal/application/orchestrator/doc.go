// Package orchestrator implements the execution service around the engine.
//
// The orchestrator manager coordinates graph execution by:
//   - Validating graph structure before anything runs
//   - Managing execution lifecycle (run, submit, status, cancel)
//   - Publishing execution and step events to the event bus
//   - Persisting execution records in the execution store
//
// The validator checks that graphs are well-formed, schedulable and, when a
// directory is available, that every step resolves to a known method.
package orchestrator
