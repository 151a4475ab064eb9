package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	RemoteJob        time.Duration // Upper bound for one detached remote job
	PollInterval     time.Duration // Interval between job status polls
	Dial             time.Duration // SSH dial timeout
	Preflight        time.Duration // Timeout for preflighting all nodes
	Cleanup          time.Duration // Timeout for draining the cleanup stack
	NodeReady        time.Duration // Timeout for waiting for nodes to become Ready
	JoinRetryAttempt int           // Attempts at fetching the join command
	JoinRetryDelay   time.Duration // Base delay between join command attempts
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - KUBEHOP_TIMEOUT_REMOTE_JOB (default: 30m)
//   - KUBEHOP_POLL_INTERVAL (default: 5s)
//   - KUBEHOP_TIMEOUT_DIAL (default: 10s)
//   - KUBEHOP_TIMEOUT_PREFLIGHT (default: 2m)
//   - KUBEHOP_TIMEOUT_CLEANUP (default: 1m)
//   - KUBEHOP_TIMEOUT_NODE_READY (default: 10m)
//   - KUBEHOP_RETRY_JOIN_ATTEMPTS (default: 3)
//   - KUBEHOP_RETRY_JOIN_DELAY (default: 2s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		RemoteJob:        parseDuration("KUBEHOP_TIMEOUT_REMOTE_JOB", 30*time.Minute),
		PollInterval:     parseDuration("KUBEHOP_POLL_INTERVAL", 5*time.Second),
		Dial:             parseDuration("KUBEHOP_TIMEOUT_DIAL", 10*time.Second),
		Preflight:        parseDuration("KUBEHOP_TIMEOUT_PREFLIGHT", 2*time.Minute),
		Cleanup:          parseDuration("KUBEHOP_TIMEOUT_CLEANUP", 1*time.Minute),
		NodeReady:        parseDuration("KUBEHOP_TIMEOUT_NODE_READY", 10*time.Minute),
		JoinRetryAttempt: parseInt("KUBEHOP_RETRY_JOIN_ATTEMPTS", 3),
		JoinRetryDelay:   parseDuration("KUBEHOP_RETRY_JOIN_DELAY", 2*time.Second),
	}
}

// Apply overrides the job timeouts with the cluster file's remote settings.
func (t *Timeouts) Apply(r RemoteConfig) {
	if r.Timeout > 0 {
		t.RemoteJob = r.Timeout
	}
	if r.PollInterval > 0 {
		t.PollInterval = r.PollInterval
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set, fails to parse or is not positive, the
// default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i <= 0 {
		return defaultVal
	}

	return i
}
