package session

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/platform/ssh"
	"github.com/imamik/kubehop/internal/remote"
)

// Runner binds a session connection to one node. It implements
// remote.Runner.
type Runner struct {
	addr node.Address
	conn Conn
	root bool
}

var _ remote.Runner = (*Runner)(nil)

// Host returns the node host.
func (r *Runner) Host() string { return r.addr.Host() }

// Address returns the node address.
func (r *Runner) Address() node.Address { return r.addr }

// IsRoot reports whether the login user is root on the node.
func (r *Runner) IsRoot() bool { return r.root }

// Run executes command as the login user.
func (r *Runner) Run(ctx context.Context, command string) (ssh.Result, error) {
	return r.conn.Run(ctx, command)
}

// Upload writes data to remotePath as the login user.
func (r *Runner) Upload(ctx context.Context, data []byte, remotePath string, mode fs.FileMode) error {
	return r.conn.Upload(ctx, data, remotePath, mode)
}

// Download reads remotePath. Root logins copy the file directly; other
// users read it through sudo so root-only files such as admin.conf work.
func (r *Runner) Download(ctx context.Context, remotePath string) ([]byte, error) {
	if r.root {
		return r.conn.Download(ctx, remotePath)
	}
	res, err := r.conn.Run(ctx, r.Elevate("cat "+shellescape.Quote(remotePath)))
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("failed to read %s on %s: %s", remotePath, r.Host(), strings.TrimSpace(res.Stderr))
	}
	return []byte(res.Stdout), nil
}

// Elevate prefixes command with non-interactive sudo for non-root logins.
func (r *Runner) Elevate(command string) string {
	if r.root {
		return command
	}
	return "sudo -n " + command
}
