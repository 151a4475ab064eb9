package upgrade

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/imamik/kubehop/internal/util/retry"
)

// DefaultReleaseURL serves one stable-<major>.<minor>.txt marker per minor.
const DefaultReleaseURL = "https://dl.k8s.io/release"

// ReleaseResolver finds the latest stable patch release of a minor version.
type ReleaseResolver interface {
	LatestPatch(ctx context.Context, major, minor uint64) (*semver.Version, error)
}

// HTTPResolver reads the stable release markers published by the
// Kubernetes release infrastructure.
type HTTPResolver struct {
	endpoint   string
	httpClient *http.Client
	attempts   int
}

// NewHTTPResolver creates a resolver for DefaultReleaseURL.
func NewHTTPResolver() *HTTPResolver {
	return NewHTTPResolverWithEndpoint(DefaultReleaseURL)
}

// NewHTTPResolverWithEndpoint creates a resolver with a custom endpoint (for testing).
func NewHTTPResolverWithEndpoint(endpoint string) *HTTPResolver {
	return &HTTPResolver{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		attempts: 3,
	}
}

// LatestPatch implements ReleaseResolver.
func (r *HTTPResolver) LatestPatch(ctx context.Context, major, minor uint64) (*semver.Version, error) {
	url := fmt.Sprintf("%s/stable-%d.%d.txt", r.endpoint, major, minor)

	var body string
	err := retry.WithExponentialBackoff(ctx, func() error {
		b, err := r.fetch(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	}, retry.WithAttempts(r.attempts), retry.WithInitialDelay(500*time.Millisecond))
	if err != nil {
		return nil, err
	}
	return ParseVersion(body)
}

func (r *HTTPResolver) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", retry.Fatal(fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", retry.Fatal(fmt.Errorf("no release marker at %s", url))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// StaticResolver answers from a fixed "major.minor" to version map.
type StaticResolver map[string]string

// ParseReleaseMap parses "1.31=1.31.9" entries into a StaticResolver.
func ParseReleaseMap(entries []string) (StaticResolver, error) {
	out := make(StaticResolver, len(entries))
	for _, e := range entries {
		minor, version, ok := strings.Cut(strings.TrimSpace(e), "=")
		if !ok {
			return nil, fmt.Errorf("invalid release map entry %q: expected MAJOR.MINOR=VERSION", e)
		}
		major, rest, ok := strings.Cut(strings.TrimPrefix(minor, "v"), ".")
		if !ok {
			return nil, fmt.Errorf("invalid release map entry %q: expected MAJOR.MINOR=VERSION", e)
		}
		if _, err := strconv.ParseUint(major, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid release map entry %q: %w", e, err)
		}
		if _, err := strconv.ParseUint(rest, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid release map entry %q: %w", e, err)
		}
		v, err := ParseVersion(version)
		if err != nil {
			return nil, err
		}
		key := major + "." + rest
		if key != fmt.Sprintf("%d.%d", v.Major(), v.Minor()) {
			return nil, fmt.Errorf("invalid release map entry %q: version does not belong to %s", e, key)
		}
		out[key] = v.String()
	}
	return out, nil
}

// LatestPatch implements ReleaseResolver.
func (s StaticResolver) LatestPatch(_ context.Context, major, minor uint64) (*semver.Version, error) {
	key := fmt.Sprintf("%d.%d", major, minor)
	v, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("no release known for %s", key)
	}
	return ParseVersion(v)
}

// ChainResolver tries each resolver in turn and returns the first answer.
type ChainResolver []ReleaseResolver

// LatestPatch implements ReleaseResolver.
func (c ChainResolver) LatestPatch(ctx context.Context, major, minor uint64) (*semver.Version, error) {
	var lastErr error
	for _, r := range c {
		v, err := r.LatestPatch(ctx, major, minor)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no release resolver configured")
	}
	return nil, lastErr
}
