package bundle

import "errors"

var (
	// ErrModuleNotFound is returned when a referenced module is missing from
	// the source tree.
	ErrModuleNotFound = errors.New("bundle module not found")

	// ErrUnknownSubcommand is returned for a subcommand with no dependency set.
	ErrUnknownSubcommand = errors.New("unknown bundle subcommand")

	// ErrUnknownFamily is returned for a family name outside [Families].
	ErrUnknownFamily = errors.New("unknown distribution family")

	// ErrUnsupportedDistro is returned when /etc/os-release maps to no family.
	ErrUnsupportedDistro = errors.New("unsupported distribution")
)
