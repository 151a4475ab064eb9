// Package joincred extracts the credential that lets further nodes join a
// cluster from the output of bundle subcommands run on the first control
// plane.
//
// Parsing lives behind the Parser interface so the output contract can be
// tested without a transport. Every field is validated before it is
// trusted; a parser never returns a partially populated Credential.
package joincred
