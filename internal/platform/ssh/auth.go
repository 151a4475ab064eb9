package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// KeyAuth parses a PEM private key into a public-key auth method.
// passphrase may be nil for unencrypted keys.
func KeyAuth(privateKey, passphrase []byte) (ssh.AuthMethod, ssh.Signer, error) {
	if len(privateKey) == 0 {
		return nil, nil, fmt.Errorf("private key cannot be empty")
	}

	var (
		signer ssh.Signer
		err    error
	)
	if len(passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(privateKey, passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(privateKey)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, nil, fmt.Errorf("private key is encrypted; load it into ssh-agent instead: %w", err)
		}
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), signer, nil
}

// KeyFileAuth reads and parses a private key file.
func KeyFileAuth(path string) (ssh.AuthMethod, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied key path
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}
	method, _, err := KeyAuth(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return method, nil
}

// AgentAuth connects to the ssh-agent listening on socket. The returned
// closer releases the agent connection and must be closed when the session
// ends.
func AgentAuth(socket string) (ssh.AuthMethod, io.Closer, error) {
	if socket == "" {
		return nil, nil, fmt.Errorf("ssh-agent socket is not set")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to ssh-agent: %w", err)
	}

	client := agent.NewClient(conn)
	signers, err := client.Signers()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to list ssh-agent keys: %w", err)
	}
	if len(signers) == 0 {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ssh-agent holds no keys")
	}

	return ssh.PublicKeysCallback(client.Signers), conn, nil
}

// PasswordAuth returns password and keyboard-interactive methods answering
// with the same secret. The password is handed to the SSH library in
// process and never placed on a command line.
func PasswordAuth(password string) []ssh.AuthMethod {
	return []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = password
			}
			return answers, nil
		}),
	}
}
