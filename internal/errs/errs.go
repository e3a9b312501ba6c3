// Package errs defines the error-kind taxonomy from the core's error
// handling design: Transient, Corruption, InvalidInput and
// ConfigurationError. Components wrap errors with these sentinels so
// callers can branch with errors.Is without string matching.
package errs

import "errors"

// Kind-marking sentinel errors. Wrap with fmt.Errorf("...: %w", kind) so
// the original cause is preserved alongside the kind.
var (
	// Transient covers network, store-unavailable, and time-out failures.
	// The caller should retry; the originating operation fails atomically.
	Transient = errors.New("transient error")

	// Corruption covers unknown serialization versions and malformed rows.
	// It is recovered locally — the caller substitutes a neutral default
	// and continues, it never aborts the pipeline.
	Corruption = errors.New("corruption")

	// InvalidInput covers negative values and unknown metric types.
	// It never reaches the external dispatcher.
	InvalidInput = errors.New("invalid input")

	// ConfigurationError covers missing window durations and undefined
	// source windows. It aborts startup.
	ConfigurationError = errors.New("configuration error")
)

// IsTransient reports whether err (or any error it wraps) is Transient.
func IsTransient(err error) bool { return errors.Is(err, Transient) }

// IsCorruption reports whether err (or any error it wraps) is Corruption.
func IsCorruption(err error) bool { return errors.Is(err, Corruption) }

// IsInvalidInput reports whether err (or any error it wraps) is InvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, InvalidInput) }
