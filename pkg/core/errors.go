// Package core provides the hybrid memory manager that coordinates the graph
// store and the vector index.
package core

import (
	"errors"
	"fmt"

	"github.com/cognisphere/hybridmem-go/pkg/embedder"
	"github.com/cognisphere/hybridmem-go/pkg/graph"
	"github.com/cognisphere/hybridmem-go/pkg/vector"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDanglingReference indicates an edge whose endpoint does not exist.
	ErrDanglingReference = graph.ErrDanglingReference

	// ErrDimensionMismatch indicates an embedding of the wrong size.
	ErrDimensionMismatch = vector.ErrDimensionMismatch

	// ErrBackendUnavailable indicates that the vector backend could not start.
	ErrBackendUnavailable = vector.ErrBackendUnavailable

	// ErrTimeout indicates that the embedding provider missed its deadline.
	ErrTimeout = embedder.ErrTimeout
)

// MemoryError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "AddEpisodicMemory",
//	    Err: ErrTimeout,
//	}
//	// Error() returns: "hybridmem: AddEpisodicMemory: embedding timed out"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "hybridmem: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("hybridmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with MemoryError.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. Store-level not-found and invalid-input errors
// are additionally tagged with ErrNotFound and ErrInvalidInput so callers can
// match them without importing the store packages:
//
//	if err != nil {
//	    return NewMemoryError("RemoveMemory", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: translate(err),
	}
}

func translate(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
		return err
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, vector.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, graph.ErrInvalidInput), errors.Is(err, vector.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return err
	}
}
