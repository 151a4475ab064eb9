// Package session owns everything that lives for exactly one kubehop run:
// the validated topology, the resolved SSH credentials, a private
// known_hosts file, one pooled connection per node and the cleanup stack.
//
// Open validates and preflights every node before returning, so a session
// that exists has already proven that each node is reachable, has a
// usable privilege path and runs a supported distribution. Close is
// idempotent and always drains the cleanup stack.
package session
