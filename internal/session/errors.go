package session

import (
	"errors"
	"fmt"
)

// ErrNoCredentials is returned when no SSH authentication method is
// available.
var ErrNoCredentials = errors.New("no SSH credentials: pass --ssh-key or --ssh-password, or run an ssh-agent")

// ConnectivityError reports a node that failed preflight. No node has been
// changed when it is returned.
type ConnectivityError struct {
	Host string
	Step string
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("preflight %s failed on %s: %v", e.Step, e.Host, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
