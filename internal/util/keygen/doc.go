// Package keygen generates SSH key pairs.
//
// Private keys are PEM encoded (PKCS#1 for RSA, OpenSSH format for ed25519)
// and public keys are in authorized_keys format. The CLI uses it for the
// `keygen` helper; tests use it for host and client key fixtures.
package keygen
