package safety

import "errors"

var (
	// ErrNotFound is returned for an unknown zone, device, session or protocol.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a state change is not allowed,
	// e.g. restarting critical machinery while its zone is still stopped.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrIntegrationFailure is returned when a downstream adapter call failed.
	ErrIntegrationFailure = errors.New("integration failure")
	// ErrUnavailable is returned when an optional data source is absent.
	ErrUnavailable = errors.New("unavailable")
	// ErrSinkRegistered is returned when an adapter already has an event sink.
	ErrSinkRegistered = errors.New("event sink already registered")
)
