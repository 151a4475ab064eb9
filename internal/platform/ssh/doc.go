// Package ssh is the transport layer: command execution and file copy on a
// single node over SSH.
//
// A [Client] dials lazily and keeps one connection per node; a transport
// failure drops the connection so the next call re-dials. Remote commands
// that exit non-zero are not errors: the exit code is reported in [Result].
// Everything else that goes wrong at the SSH layer is a [TransportError],
// returned untouched. The transport never retries; retry policy belongs to
// callers.
//
// Host keys are checked against a session-scoped known_hosts file through
// [HostKeyStore], which implements the strict, accept-new and off policies.
package ssh
