package keygen

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyPair holds a key pair in ready-to-use formats.
type KeyPair struct {
	// PrivateKey is the PEM-encoded private key.
	PrivateKey []byte
	// PublicKey is the public key in OpenSSH authorized_keys format.
	PublicKey []byte

	signer crypto.Signer
}

// Signer returns the private key as an ssh.Signer.
func (k *KeyPair) Signer() (ssh.Signer, error) {
	if k.signer != nil {
		return ssh.NewSignerFromSigner(k.signer)
	}
	return ssh.ParsePrivateKey(k.PrivateKey)
}

// WriteFiles writes the private key to path (mode 600) and the public key to
// path + ".pub" (mode 644).
func (k *KeyPair) WriteFiles(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, k.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", k.PublicKey, 0o644); err != nil { //nolint:gosec // public key
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// GenerateRSAKeyPair generates a new RSA key pair with the specified bit size.
func GenerateRSAKeyPair(bits int) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
	}

	if err := privateKey.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate RSA private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return newKeyPair(privateKeyPEM, privateKey)
}

// GenerateEd25519KeyPair generates a new ed25519 key pair.
func GenerateEd25519KeyPair() (*KeyPair, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 private key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(privateKey, "")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ed25519 private key: %w", err)
	}

	return newKeyPair(pem.EncodeToMemory(block), privateKey)
}

func newKeyPair(privateKeyPEM []byte, signer crypto.Signer) (*KeyPair, error) {
	publicKey, err := ssh.NewPublicKey(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: privateKeyPEM,
		PublicKey:  ssh.MarshalAuthorizedKey(publicKey),
		signer:     signer,
	}, nil
}
