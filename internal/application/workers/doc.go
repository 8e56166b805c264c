// Package workers implements the worker pool that drains asynchronous
// executions.
//
// The worker pool manages a fixed number of goroutines that:
//   - Take jobs from a bounded queue
//   - Run each job with the pool's context
//   - Report idle, busy and stopped status
//
// The health monitor tracks worker status and records metrics.
package workers
