package joincred

import (
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/imamik/kubehop/internal/node"
)

var (
	tokenPattern   = regexp.MustCompile(`^[a-z0-9]{6}\.[a-z0-9]{16}$`)
	hashPattern    = regexp.MustCompile(`^sha256:[a-f0-9]{64}$`)
	certKeyPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

const redacted = "<redacted>"

// Credential is everything a node needs to join. CertificateKey is only set
// for highly available control planes.
type Credential struct {
	Token          string
	APIAddress     string
	DiscoveryHash  string
	CertificateKey string
}

// String hides the secret parts.
func (c Credential) String() string {
	key := ""
	if c.CertificateKey != "" {
		key = " certificate-key=" + redacted
	}
	return "join " + c.APIAddress + " token=" + redacted + " discovery-hash=" + c.DiscoveryHash + key
}

// Validate checks every populated field against its format.
func (c Credential) Validate() error {
	if err := ValidateToken(c.Token); err != nil {
		return err
	}
	if err := ValidateAPIAddress(c.APIAddress); err != nil {
		return err
	}
	if err := ValidateDiscoveryHash(c.DiscoveryHash); err != nil {
		return err
	}
	if c.CertificateKey != "" {
		return ValidateCertificateKey(c.CertificateKey)
	}
	return nil
}

// ValidateToken checks a bootstrap token.
func ValidateToken(token string) error {
	if !tokenPattern.MatchString(token) {
		return &node.ValidationError{Field: "join token", Value: redacted, Reason: "expected [a-z0-9]{6}.[a-z0-9]{16}"}
	}
	return nil
}

// ValidateDiscoveryHash checks a CA certificate public key pin.
func ValidateDiscoveryHash(hash string) error {
	if !hashPattern.MatchString(hash) {
		return &node.ValidationError{Field: "discovery hash", Value: hash, Reason: "expected sha256:<64 hex>"}
	}
	return nil
}

// ValidateCertificateKey checks the key protecting uploaded control plane
// certificates.
func ValidateCertificateKey(key string) error {
	if !certKeyPattern.MatchString(key) {
		return &node.ValidationError{Field: "certificate key", Value: redacted, Reason: "expected 64 hex characters"}
	}
	return nil
}

// ValidateAPIAddress checks a host:port API server address.
func ValidateAPIAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return &node.ValidationError{Field: "API address", Value: addr, Reason: err.Error()}
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return &node.ValidationError{Field: "API address", Value: addr, Reason: "invalid port"}
	}
	if strings.Contains(host, "@") {
		return &node.ValidationError{Field: "API address", Value: addr, Reason: "invalid host"}
	}
	if _, err := node.ParseAddress(host, node.Defaults{}); err != nil {
		return &node.ValidationError{Field: "API address", Value: addr, Reason: "invalid host"}
	}
	return nil
}
