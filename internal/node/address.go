package node

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPort is the SSH port used when neither the address nor the session
// defaults name one.
const DefaultPort = 22

var (
	hostnamePattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	userPattern     = regexp.MustCompile(`^[a-z_][a-z0-9_.-]{0,31}$`)
)

// Defaults supplies the session-wide values for address fields the user left out.
type Defaults struct {
	User string
	Port int
}

// Address identifies one node reachable over SSH.
type Address struct {
	user string
	host string
	port int
}

// ParseAddress parses `host`, `user@host`, `host:port`, `user@host:port`,
// `[v6]`, `[v6]:port` or a bare IPv6 literal. Missing fields come from defaults.
func ParseAddress(raw string, defaults Defaults) (Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Address{}, &ValidationError{Field: "address", Value: raw, Reason: "empty address"}
	}

	user := defaults.User
	if i := strings.LastIndex(s, "@"); i >= 0 {
		user = s[:i]
		s = s[i+1:]
		if user == "" {
			return Address{}, &ValidationError{Field: "user", Value: raw, Reason: "empty user before '@'"}
		}
	}
	if user == "" {
		user = "root"
	}
	if !userPattern.MatchString(user) {
		return Address{}, &ValidationError{Field: "user", Value: raw, Reason: fmt.Sprintf("invalid user name %q", user)}
	}

	port := defaults.Port
	if port == 0 {
		port = DefaultPort
	}

	host, portStr, err := splitHostPort(s)
	if err != nil {
		return Address{}, &ValidationError{Field: "host", Value: raw, Reason: err.Error()}
	}
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return Address{}, &ValidationError{Field: "port", Value: raw, Reason: fmt.Sprintf("invalid port %q", portStr)}
		}
		port = p
	}
	if port < 1 || port > 65535 {
		return Address{}, &ValidationError{Field: "port", Value: raw, Reason: fmt.Sprintf("invalid port %d", port)}
	}

	canonical, err := canonicalHost(host)
	if err != nil {
		return Address{}, &ValidationError{Field: "host", Value: raw, Reason: err.Error()}
	}

	return Address{user: user, host: canonical, port: port}, nil
}

// splitHostPort separates an optional port from the host, handling bracketed
// and bare IPv6 literals.
func splitHostPort(s string) (host, port string, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("unterminated IPv6 literal %q", s)
		}
		host = s[1:end]
		rest := s[end+1:]
		switch {
		case rest == "":
		case strings.HasPrefix(rest, ":") && len(rest) > 1:
			port = rest[1:]
		default:
			return "", "", fmt.Errorf("unexpected text %q after IPv6 literal", rest)
		}
		if _, err := netip.ParseAddr(host); err != nil {
			return "", "", fmt.Errorf("invalid IPv6 literal %q", host)
		}
		return host, port, nil
	}

	// More than one colon without brackets can only be a bare IPv6 literal.
	if strings.Count(s, ":") > 1 {
		return s, "", nil
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[:i], s[i+1:], nil
	}
	return s, "", nil
}

func canonicalHost(host string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" {
			return "", fmt.Errorf("zoned IPv6 address %q is not supported", host)
		}
		return addr.String(), nil
	}
	if len(host) > 253 || !hostnamePattern.MatchString(host) {
		return "", fmt.Errorf("invalid hostname %q", host)
	}
	return strings.ToLower(host), nil
}

// User returns the SSH login user.
func (a Address) User() string { return a.user }

// Host returns the canonical host without brackets.
func (a Address) Host() string { return a.host }

// SSHHost returns the unbracketed form the SSH client argument takes.
func (a Address) SSHHost() string { return a.host }

// Port returns the SSH port.
func (a Address) Port() int { return a.port }

// Key is the deduplication identity. Two addresses with the same host are the
// same node regardless of user or port.
func (a Address) Key() string { return a.host }

// IsIPv6 reports whether the host is an IPv6 literal.
func (a Address) IsIPv6() bool {
	addr, err := netip.ParseAddr(a.host)
	return err == nil && addr.Is6() && !addr.Is4In6()
}

// HostPort returns the dial form with IPv6 literals bracketed.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.host, strconv.Itoa(a.port))
}

// CopyHost returns the host in the bracketed form file-copy targets use.
func (a Address) CopyHost() string {
	if a.IsIPv6() {
		return "[" + a.host + "]"
	}
	return a.host
}

// IsRoot reports whether commands run without privilege elevation.
func (a Address) IsRoot() bool { return a.user == "root" }

// IsZero reports whether the address was never parsed.
func (a Address) IsZero() bool { return a.host == "" }

// String renders user@host:port with IPv6 bracketed.
func (a Address) String() string {
	return a.user + "@" + a.HostPort()
}
