package bundle

import (
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// RemoteName is the file name of an uploaded bundle.
const RemoteName = "kubehop.sh"

// Command returns the shell command line that runs subcommand of the bundle
// at path. Every argument is quoted.
func Command(path, subcommand string, args ...string) string {
	parts := make([]string, 0, len(args)+3)
	parts = append(parts, "bash", shellescape.Quote(path), subcommand)
	for _, a := range args {
		parts = append(parts, shellescape.Quote(a))
	}
	return strings.Join(parts, " ")
}
