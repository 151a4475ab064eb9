package ssh

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy selects how unknown and changed host keys are treated.
type HostKeyPolicy string

const (
	// HostKeyStrict fails closed on unknown or changed keys.
	HostKeyStrict HostKeyPolicy = "strict"
	// HostKeyAcceptNew records keys on first contact and fails on changed keys.
	HostKeyAcceptNew HostKeyPolicy = "accept-new"
	// HostKeyOff disables verification.
	HostKeyOff HostKeyPolicy = "off"
)

// ParseHostKeyPolicy accepts the OpenSSH StrictHostKeyChecking spellings.
func ParseHostKeyPolicy(s string) (HostKeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "strict", "true":
		return HostKeyStrict, nil
	case "accept-new", "acceptnew", "":
		return HostKeyAcceptNew, nil
	case "no", "off", "false":
		return HostKeyOff, nil
	default:
		return "", fmt.Errorf("invalid host key policy %q (want yes, accept-new or no)", s)
	}
}

// HostKeyStore verifies host keys against one known_hosts file and, under
// accept-new, appends keys seen for the first time.
type HostKeyStore struct {
	path   string
	policy HostKeyPolicy
	log    logr.Logger

	mu       sync.Mutex
	check    ssh.HostKeyCallback
	warnOnce sync.Once
}

// NewHostKeyStore opens the known_hosts file at path. The file must exist
// unless policy is off.
func NewHostKeyStore(path string, policy HostKeyPolicy, log logr.Logger) (*HostKeyStore, error) {
	s := &HostKeyStore{path: path, policy: policy, log: log}
	if policy == HostKeyOff {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the known_hosts file backing the store.
func (s *HostKeyStore) Path() string { return s.path }

// Policy returns the configured policy.
func (s *HostKeyStore) Policy() HostKeyPolicy { return s.policy }

func (s *HostKeyStore) reload() error {
	cb, err := knownhosts.New(s.path)
	if err != nil {
		return fmt.Errorf("failed to load known_hosts %s: %w", s.path, err)
	}
	s.check = cb
	return nil
}

// Callback returns the ssh.HostKeyCallback enforcing the store's policy.
func (s *HostKeyStore) Callback() ssh.HostKeyCallback {
	if s.policy == HostKeyOff {
		return func(hostname string, _ net.Addr, _ ssh.PublicKey) error {
			s.warnOnce.Do(func() {
				s.log.Info("WARNING: host key verification is disabled; connections are open to man-in-the-middle attacks",
					"host", hostname)
			})
			return nil
		}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		err := s.check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("%w for %s (got %s %s): possible man-in-the-middle attack",
				ErrHostKeyChanged, hostname, key.Type(), ssh.FingerprintSHA256(key))
		}
		if s.policy != HostKeyAcceptNew {
			return fmt.Errorf("%w for %s (%s %s)", ErrHostKeyUnknown, hostname, key.Type(), ssh.FingerprintSHA256(key))
		}

		if err := s.record(hostname, key); err != nil {
			return err
		}
		s.log.Info("recorded new host key", "host", hostname, "type", key.Type(), "fingerprint", ssh.FingerprintSHA256(key))
		return nil
	}
}

func (s *HostKeyStore) record(hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts for append: %w", err)
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to record host key: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	return s.reload()
}

var probeKey = func() ssh.PublicKey {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	key, err := ssh.NewPublicKey(pub)
	if err != nil {
		panic(err)
	}
	return key
}()

// Algorithms returns the host key algorithms already recorded for hostport,
// so the handshake negotiates a key type known_hosts can verify. It returns
// nil when nothing is recorded or the policy is off.
func (s *HostKeyStore) Algorithms(hostport string) []string {
	if s.policy == HostKeyOff {
		return nil
	}

	s.mu.Lock()
	err := s.check(hostport, &net.TCPAddr{IP: net.IPv4zero}, probeKey)
	s.mu.Unlock()

	var keyErr *knownhosts.KeyError
	if !errors.As(err, &keyErr) || len(keyErr.Want) == 0 {
		return nil
	}

	var algos []string
	seen := make(map[string]bool)
	add := func(a string) {
		if !seen[a] {
			seen[a] = true
			algos = append(algos, a)
		}
	}
	for _, k := range keyErr.Want {
		if k.Key.Type() == ssh.KeyAlgoRSA {
			add(ssh.KeyAlgoRSASHA512)
			add(ssh.KeyAlgoRSASHA256)
		}
		add(k.Key.Type())
	}
	return algos
}
