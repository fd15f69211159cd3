package campaign

import (
	"errors"

	"github.com/narvanalabs/benchctl/internal/timeline"
)

var (
	// ErrUnknownTestType is logged for VMs whose test kind has no installer; the
	// VM is provisioned but its install and start are skipped.
	ErrUnknownTestType = timeline.ErrUnknownTestType

	// ErrNotConfigured is returned when Run or Store is called before Configure.
	ErrNotConfigured = errors.New("session not configured")

	// ErrAlreadyConfigured is returned when Configure is called twice.
	ErrAlreadyConfigured = errors.New("session already configured")

	// ErrNotRun is returned when Store is called before Run.
	ErrNotRun = errors.New("scenario has not been run")

	// ErrNoNodes is returned when a session is created without nodes.
	ErrNoNodes = errors.New("no nodes configured")
)
