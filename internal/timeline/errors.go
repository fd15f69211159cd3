package timeline

import "errors"

var (
	// ErrUnknownTestType is reported for tests whose kind the launcher cannot start.
	ErrUnknownTestType = errors.New("unknown test type")
	// ErrNoLauncher is returned when an engine has nothing to start tests with.
	ErrNoLauncher = errors.New("no launcher configured")
)
