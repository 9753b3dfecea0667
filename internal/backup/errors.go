package backup

import "errors"

// Error kinds surfaced by the pipeline and the retention engine. Callers
// inspect them with errors.Is; messages wrapped around them carry the
// detail.
var (
	// ErrValidation covers malformed requests, unknown databases and a
	// missing differential parent.
	ErrValidation = errors.New("validation failed")

	// ErrTransientIO marks retryable network/storage errors. It is retried
	// with bounded exponential backoff before an operation goes FAILED.
	ErrTransientIO = errors.New("transient i/o error")

	// ErrIntegrity marks checksum mismatches and decryption authentication
	// failures. Never retried, always fatal.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrCapacity flags a retention pass that could not satisfy its policy
	// without leaving a database unprotected.
	ErrCapacity = errors.New("retention capacity constraint")

	// ErrNotFound is returned when a referenced backup, policy or database
	// does not exist.
	ErrNotFound = errors.New("not found")
)
