// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, every subscriber reads the whole stream
//   - memory: In-process fan-out for tests and single-node runs
//
// Both deliver events to each subscriber in publish order.
package events
