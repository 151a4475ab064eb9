package session

import (
	"io"
	"path/filepath"

	"github.com/go-logr/logr"
	gossh "golang.org/x/crypto/ssh"

	"github.com/imamik/kubehop/internal/platform/ssh"
)

// discoveredKeys are tried in order when neither a key nor an agent is
// available.
var discoveredKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Credentials describe how to authenticate against every node.
type Credentials struct {
	PrivateKeyPath string
	Password       string
	UseAgent       bool
	HostKeyPolicy  ssh.HostKeyPolicy
}

// Auth is a resolved authentication method.
type Auth struct {
	Methods []gossh.AuthMethod
	// Source describes where the credential came from, for logging.
	Source string

	closer io.Closer
}

// Close releases an agent connection, if any.
func (a *Auth) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// Resolve picks exactly one credential: an explicit key, then the agent at
// agentSocket, then the first parseable key under home/.ssh, then the
// password.
func (c Credentials) Resolve(home, agentSocket string, log logr.Logger) (*Auth, error) {
	if c.PrivateKeyPath != "" {
		method, err := ssh.KeyFileAuth(c.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		if c.Password != "" {
			log.Info("both a private key and a password were given, using the key")
		}
		return &Auth{Methods: []gossh.AuthMethod{method}, Source: "key " + c.PrivateKeyPath}, nil
	}

	if c.UseAgent && agentSocket != "" {
		method, closer, err := ssh.AgentAuth(agentSocket)
		if err == nil {
			return &Auth{Methods: []gossh.AuthMethod{method}, Source: "ssh-agent", closer: closer}, nil
		}
		log.V(1).Info("ssh-agent unavailable", "error", err.Error())
	}

	if home != "" {
		for _, name := range discoveredKeys {
			path := filepath.Join(home, ".ssh", name)
			method, err := ssh.KeyFileAuth(path)
			if err != nil {
				continue
			}
			return &Auth{Methods: []gossh.AuthMethod{method}, Source: "key " + path}, nil
		}
	}

	if c.Password != "" {
		return &Auth{Methods: ssh.PasswordAuth(c.Password), Source: "password"}, nil
	}

	return nil, ErrNoCredentials
}
