package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/a2aflow/internal/binding"
	"github.com/aescanero/a2aflow/internal/directory"
	"github.com/aescanero/a2aflow/internal/rpc"
	"github.com/aescanero/a2aflow/pkg/domain"
)

var (
	// ErrRecursion groups RecursionError values
	ErrRecursion = errors.New("composite recursion")
	// ErrNoAddress is returned for a primitive capability without an invocation address
	ErrNoAddress = errors.New("capability has no invocation address")
	// ErrBatchFailed is returned when every fan-out item failed
	ErrBatchFailed = errors.New("every fan-out item failed")
	// ErrInvalidItem marks a fan-out item that is not a record
	ErrInvalidItem = errors.New("fan-out item is not a record")
)

// RecursionError is returned when a composite references itself or nests too deep
type RecursionError struct {
	Name  string
	Chain []string
	Depth int
}

func (e *RecursionError) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("%s: %s references itself via %s", ErrRecursion.Error(), e.Name, strings.Join(e.Chain, " -> "))
	}
	return fmt.Sprintf("%s: %s exceeds depth %d", ErrRecursion.Error(), e.Name, e.Depth)
}

func (e *RecursionError) Unwrap() error { return ErrRecursion }

// ErrorKind classifies err for log entries
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return domain.ErrorKindCanceled
	case errors.Is(err, directory.ErrUnknownCapability), errors.Is(err, ErrNoAddress):
		return domain.ErrorKindUnknownCapability
	case errors.Is(err, directory.ErrUnavailable):
		return domain.ErrorKindDirectory
	case errors.Is(err, rpc.ErrTransport):
		return domain.ErrorKindTransport
	case errors.Is(err, rpc.ErrTimeout):
		return domain.ErrorKindTimeout
	case errors.Is(err, rpc.ErrRemote):
		return domain.ErrorKindRemote
	case errors.Is(err, rpc.ErrProtocol):
		return domain.ErrorKindProtocol
	case errors.Is(err, binding.ErrMissingParameter):
		return domain.ErrorKindMissingParameter
	case errors.Is(err, binding.ErrTypeCoercion):
		return domain.ErrorKindTypeCoercion
	case errors.Is(err, ErrInvalidItem), errors.Is(err, ErrBatchFailed):
		return domain.ErrorKindValidation
	case errors.Is(err, ErrRecursion):
		return domain.ErrorKindRecursion
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorKindTimeout
	default:
		return domain.ErrorKindInternal
	}
}
