package supervisor

import (
	"errors"
	"fmt"
)

// Supervisor errors.
var (
	// ErrAttemptsExhausted is returned when a command keeps failing past the attempt ceiling.
	ErrAttemptsExhausted = errors.New("maximum command attempts exceeded")

	// ErrCommandNotFinished is returned by Wait when a command did not exit successfully.
	ErrCommandNotFinished = errors.New("command did not finish successfully")
)

// ExhaustedError reports which command gave up and after how many attempts.
type ExhaustedError struct {
	Command  string
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts: %v", e.Command, e.Attempts, ErrAttemptsExhausted)
}

// Unwrap returns ErrAttemptsExhausted.
func (e *ExhaustedError) Unwrap() error {
	return ErrAttemptsExhausted
}
