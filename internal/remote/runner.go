package remote

import (
	"context"
	"io/fs"

	"github.com/imamik/kubehop/internal/platform/ssh"
)

// Runner executes commands and transfers files on a single node.
//
// Run reports a non-zero remote exit in the result, not as an error; an
// error means the command could not be delivered or observed.
type Runner interface {
	Host() string
	Run(ctx context.Context, command string) (ssh.Result, error)
	Upload(ctx context.Context, data []byte, remotePath string, mode fs.FileMode) error
	Download(ctx context.Context, remotePath string) ([]byte, error)
	// Elevate wraps command so it runs as root on the node.
	Elevate(command string) string
}
