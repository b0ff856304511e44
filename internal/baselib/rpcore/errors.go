package rpcore

import "errors"

// Sentinel error kinds. These are wrapped with additional context at call
// sites via fmt.Errorf("%w", ...) so that errors.Is continues to resolve to
// one of these values end to end.
var (
	// ErrNameAlreadyRegistered is returned when registering an endpoint
	// name that already has an entry in the Dispatcher.
	ErrNameAlreadyRegistered = errors.New("rpcore: name already registered")

	// ErrEnvironmentStopped is returned for any operation attempted after
	// the environment (or its Dispatcher) has been shut down.
	ErrEnvironmentStopped = errors.New("rpcore: environment stopped")

	// ErrNoSuchEndpoint is returned when a message is posted to a name
	// that has no registered entry.
	ErrNoSuchEndpoint = errors.New("rpcore: no such endpoint")

	// ErrEndpointStopped is returned when a message is posted to an inbox
	// after it has observed its OnStop lifecycle item.
	ErrEndpointStopped = errors.New("rpcore: endpoint stopped")

	// ErrTransportFailure wraps a connect or send failure from the
	// transport layer. Use errors.Is(err, ErrTransportFailure) after
	// wrapping with fmt.Errorf("%w: %v", ErrTransportFailure, cause).
	ErrTransportFailure = errors.New("rpcore: transport failure")

	// ErrInvalidAddress is returned by ParseAddress when the URL is
	// missing a host or port.
	ErrInvalidAddress = errors.New("rpcore: invalid rpc url")

	// ErrTimeout is returned by the future layer when a deadline elapses
	// before a reply arrives.
	ErrTimeout = errors.New("rpcore: timeout")

	// ErrReservedEndpointName is returned when user code attempts to
	// register an endpoint under the reserved verifier name.
	ErrReservedEndpointName = errors.New("rpcore: endpoint name is reserved")
)
