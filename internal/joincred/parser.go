package joincred

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ErrNoJoinCommand is returned when the output carries no join command.
var ErrNoJoinCommand = errors.New("no join command in output")

// Parser turns subcommand output into validated credential parts.
type Parser interface {
	ParseJoinCommand(out string) (Credential, error)
	ParseCertificateKey(out string) (string, error)
}

// DefaultParser reads the output of kubeadm's print-join-command and
// upload-certs phases.
type DefaultParser struct{}

var _ Parser = DefaultParser{}

// ParseJoinCommand extracts the API address, token and discovery hash from
// the last "kubeadm join" command in out. Trailing backslash continuations
// are followed.
func (DefaultParser) ParseJoinCommand(out string) (Credential, error) {
	line, ok := lastJoinCommand(out)
	if !ok {
		return Credential{}, ErrNoJoinCommand
	}

	words, err := shellquote.Split(line)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to tokenize join command: %w", err)
	}

	var c Credential
	for i := 0; i < len(words); i++ {
		flag, value, inline := strings.Cut(words[i], "=")
		next := func() string {
			if inline {
				return value
			}
			if i+1 < len(words) {
				i++
				return words[i]
			}
			return ""
		}

		switch flag {
		case "join":
			if c.APIAddress == "" && i+1 < len(words) && !strings.HasPrefix(words[i+1], "-") {
				i++
				c.APIAddress = words[i]
			}
		case "--token":
			c.Token = next()
		case "--discovery-token-ca-cert-hash":
			c.DiscoveryHash = next()
		}
	}

	if err := c.Validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// ParseCertificateKey validates the last non-empty line of out.
func (DefaultParser) ParseCertificateKey(out string) (string, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	key := strings.TrimSpace(lines[len(lines)-1])
	if err := ValidateCertificateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func lastJoinCommand(out string) (string, bool) {
	lines := strings.Split(out, "\n")
	start := -1
	for i, l := range lines {
		if strings.Contains(l, "kubeadm join") {
			start = i
		}
	}
	if start < 0 {
		return "", false
	}

	first := lines[start]
	parts := []string{first[strings.Index(first, "kubeadm join"):]}
	for i := start; i < len(lines)-1 && strings.HasSuffix(strings.TrimSpace(lines[i]), `\`); i++ {
		parts = append(parts, lines[i+1])
	}
	return strings.Join(parts, "\n"), true
}
