package registry

import "errors"

// Registry errors.
var (
	// ErrDuplicateVM is returned when a VM name is registered twice.
	ErrDuplicateVM = errors.New("vm already registered")

	// ErrUnknownVM is returned when a VM name has not been registered.
	ErrUnknownVM = errors.New("vm not registered")

	// ErrUnknownNode is returned when a node address is not part of the pool.
	ErrUnknownNode = errors.New("node not in pool")

	// ErrNotPlaced is returned when a VM has no hosting node yet.
	ErrNotPlaced = errors.New("vm not placed")
)
