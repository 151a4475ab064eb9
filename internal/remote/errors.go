package remote

import (
	"errors"
	"fmt"
)

// ErrEngineMisconfigured is returned when an Engine is used without a
// cleanup stack.
var ErrEngineMisconfigured = errors.New("remote engine requires a cleanup stack")

// CommandError reports a job that ran to completion with a non-zero exit.
type CommandError struct {
	Host        string
	Description string
	ExitCode    int
	Log         string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s on %s exited with code %d", e.Description, e.Host, e.ExitCode)
}

// TimeoutError reports a job that did not finish within the engine timeout.
// The remote process is left running and its directory is left in place.
type TimeoutError struct {
	Host        string
	Description string
	WorkDir     string
	Log         string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s on %s timed out (logs in %s)", e.Description, e.Host, e.WorkDir)
}

// ProtocolViolationError reports output from the node that the job protocol
// does not allow, such as a non-numeric exit file.
type ProtocolViolationError struct {
	Host   string
	Detail string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation on %s: %s", e.Host, e.Detail)
}

// IsCommandError reports whether err wraps a *CommandError.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}

// IsTimeout reports whether err wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
