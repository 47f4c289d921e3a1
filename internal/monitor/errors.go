package monitor

import "errors"

var (
	// ErrDuplicateIdentity: AddMonitor on a source ID already registered.
	ErrDuplicateIdentity = errors.New("identity already monitored")
	// ErrUnknownIdentity: RemoveMonitor (or a targeted op) on an
	// unregistered source ID.
	ErrUnknownIdentity = errors.New("identity not monitored")
	// ErrDisabled: the monitor is configured off.
	ErrDisabled = errors.New("monitor disabled")
	// ErrStopped: operation on a loop that has been stopped.
	ErrStopped = errors.New("monitor stopped")
)
