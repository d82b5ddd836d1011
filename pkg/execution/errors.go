package execution

import "errors"

var (
	// ErrMaxRetriesExceeded is returned once every attempt of a retried call failed.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrStaleState is returned when the exchange rejects a transaction built
	// against an expired blockhash. It is never retried.
	ErrStaleState = errors.New("blockhash expired")

	// ErrZeroAmount is returned when an order amount scales to zero native units.
	ErrZeroAmount = errors.New("amount scales to zero native units")

	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEngineStopped is returned by strategy entry points after Shutdown.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
)
