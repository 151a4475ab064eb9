package ssh

import (
	"errors"
	"fmt"
)

var (
	// ErrHostKeyUnknown is returned under strict checking for a host with no
	// recorded key.
	ErrHostKeyUnknown = errors.New("host key is not in known_hosts")

	// ErrHostKeyChanged is returned when a host presents a key that differs
	// from the recorded one.
	ErrHostKeyChanged = errors.New("host key does not match known_hosts")
)

// TransportError is a failure at the SSH layer: dial, handshake, channel,
// or file transfer. It never describes a remote command's own exit status.
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
