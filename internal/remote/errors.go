package remote

import "errors"

// Remote execution errors.
var (
	// ErrCommandFailed is returned when a command exits with a non-zero status.
	ErrCommandFailed = errors.New("remote command failed")

	// ErrNotStarted is returned when a handle is waited on or killed before Start.
	ErrNotStarted = errors.New("command not started")

	// ErrNoHosts is returned when an operation targets an empty host list.
	ErrNoHosts = errors.New("no hosts given")
)
