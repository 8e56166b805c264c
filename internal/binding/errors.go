package binding

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParameter groups MissingParameterError values
	ErrMissingParameter = errors.New("missing required parameter")
	// ErrTypeCoercion groups TypeCoercionError values
	ErrTypeCoercion = errors.New("type coercion failed")
)

// MissingParameterError is returned when a required parameter is absent
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingParameter.Error(), e.Name)
}

func (e *MissingParameterError) Unwrap() error { return ErrMissingParameter }

// TypeCoercionError is returned when a value cannot be adapted to its declared type
type TypeCoercionError struct {
	Name         string
	DeclaredType string
	RawValue     any
	Reason       string
}

func (e *TypeCoercionError) Error() string {
	msg := fmt.Sprintf("%s: parameter %s declared %s, got %T(%v)",
		ErrTypeCoercion.Error(), e.Name, e.DeclaredType, e.RawValue, e.RawValue)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TypeCoercionError) Unwrap() error { return ErrTypeCoercion }
