// Package composites provides composite definition stores.
//
// Implementations:
//   - memory: In-memory for testing and development
//   - redis: One hash field per composite, JSON encoded
//   - file: One YAML document per composite in a directory
//
// Every store validates a definition before persisting it.
package composites

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/aescanero/a2aflow/internal/scheduler"
	"github.com/aescanero/a2aflow/pkg/domain"
)

// ErrInvalidDefinition is returned for definitions that cannot be stored
var ErrInvalidDefinition = errors.New("invalid composite definition")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks def before it is stored under name. An empty def.Name is
// filled with name.
func Validate(name string, def *domain.CompositeDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidDefinition, name)
	}
	if def.Name == "" {
		def.Name = name
	}
	if def.Name != name {
		return fmt.Errorf("%w: name %q does not match key %q", ErrInvalidDefinition, def.Name, name)
	}
	if def.Method == "" {
		return fmt.Errorf("%w: %s declares no method", ErrInvalidDefinition, name)
	}

	if _, _, err := scheduler.Schedule(&def.Graph); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, name, err)
	}
	return nil
}
