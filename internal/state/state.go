// Package state implements the shared execution state threaded through one
// graph execution.
//
// State only grows or overwrites: there is no delete, so any later step can
// see every earlier step's outputs. A State is owned by a single execution
// and is not safe for concurrent use; recursion works on snapshots.
package state

import (
	"github.com/aescanero/a2aflow/pkg/domain"
)

// ResultKey stores non-record results that have no single declared return name
const ResultKey = "$result"

// Source is a read-only view used to bind call parameters
type Source interface {
	Get(key string) (any, bool)
}

// State maps keys to dynamic values. It remembers which keys were written
// after seeding.
type State struct {
	values  map[string]any
	written map[string]struct{}
}

// New returns an empty state
func New() *State {
	return &State{values: make(map[string]any), written: make(map[string]struct{})}
}

// Seed returns a state holding a deep copy of initial. Seeded keys do not
// count as written.
func Seed(initial map[string]any) *State {
	if initial == nil {
		return New()
	}
	return &State{values: CopyRecord(initial), written: make(map[string]struct{})}
}

// Get returns the value stored under key
func (s *State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of keys
func (s *State) Len() int {
	return len(s.values)
}

// Merge writes every key of record into the state. Incoming values win.
func (s *State) Merge(record map[string]any) {
	for k, v := range record {
		s.set(k, v)
	}
}

func (s *State) set(key string, v any) {
	s.values[key] = DeepCopy(v)
	s.written[key] = struct{}{}
}

// Snapshot returns a deep copy of the current values
func (s *State) Snapshot() map[string]any {
	return CopyRecord(s.values)
}

// MergeResult merges a raw invocation result. Records are merged key by key;
// anything else is stored under the key chosen by ResultKeyFor.
func (s *State) MergeResult(result any, method *domain.Method) {
	if rec, ok := AsRecord(result); ok {
		s.Merge(rec)
		return
	}
	s.set(ResultKeyFor(method), result)
}

// Written returns a deep copy of the keys written since the state was seeded
func (s *State) Written() map[string]any {
	out := make(map[string]any, len(s.written))
	for k := range s.written {
		out[k] = DeepCopy(s.values[k])
	}
	return out
}

// ResultKeyFor returns the key a non-record result of method is stored under
func ResultKeyFor(method *domain.Method) string {
	if method != nil && len(method.Returns) == 1 {
		name := method.Returns[0].Name
		if name != "" && name != ResultKey {
			return name
		}
	}
	return ResultKey
}
