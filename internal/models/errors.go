package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTopK is returned when a query asks for a non-positive
// number of candidates.
var ErrInvalidTopK = errors.New("top-k must be positive")

// ParseError marks a document that could not be normalized.
// Ingestion skips the document and continues with the batch.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmbeddingError marks a failure of the embedding provider.
// Recoverable per passage during ingestion, terminal for a query.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// DimensionMismatchError means the store and the embedding model
// disagree on vector dimensionality. Configuration error, fatal.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: store expects %d, got %d", e.Want, e.Got)
}

// StoreCorruptionError means a persisted store could not be decoded.
// Fatal at load, never auto-repaired.
type StoreCorruptionError struct {
	Path string
	Err  error
}

func (e *StoreCorruptionError) Error() string {
	return fmt.Sprintf("corrupted vector store %s: %v", e.Path, e.Err)
}

func (e *StoreCorruptionError) Unwrap() error { return e.Err }

// GenerationFailure classifies a generation provider failure.
type GenerationFailure string

const (
	GenerationTimeout   GenerationFailure = "timeout"
	GenerationRateLimit GenerationFailure = "rate_limit"
	GenerationAuth      GenerationFailure = "auth"
	GenerationProvider  GenerationFailure = "provider"
)

// GenerationError marks a failed generation call. Terminal for the
// query; only transient kinds are eligible for retry.
type GenerationError struct {
	Kind GenerationFailure
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is transient.
// Auth failures are never retried.
func (e *GenerationError) Retryable() bool {
	return e.Kind == GenerationTimeout || e.Kind == GenerationRateLimit
}
