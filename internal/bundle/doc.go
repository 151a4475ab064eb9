// Package bundle assembles the self-contained shell script shipped to every
// node of a run.
//
// Shell modules live under modules/ and are embedded at build time. A
// [Builder] walks the canonical module list, emits each module the requested
// subcommands need exactly once, appends the distro modules for the requested
// families in a fixed family order, and finishes with the entry script. The
// same inputs always produce byte-identical output.
package bundle
