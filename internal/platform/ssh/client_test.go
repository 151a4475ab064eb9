package ssh

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/imamik/kubehop/internal/util/keygen"
)

func generateTestKey(t *testing.T) (ssh.AuthMethod, ssh.Signer) {
	t.Helper()
	keyPair, err := keygen.GenerateEd25519KeyPair()
	require.NoError(t, err)
	method, signer, err := KeyAuth(keyPair.PrivateKey, nil)
	require.NoError(t, err)
	return method, signer
}

func echoHandler(cmd string) (string, string, int) {
	switch {
	case cmd == "true":
		return "", "", 0
	case strings.HasPrefix(cmd, "echo "):
		return strings.TrimPrefix(cmd, "echo ") + "\n", "", 0
	case strings.HasPrefix(cmd, "fail"):
		return "partial\n", "boom\n", 3
	default:
		return "", "command not found\n", 127
	}
}

func newTestClient(t *testing.T, srv *testServer, auth ...ssh.AuthMethod) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		Host:            "127.0.0.1",
		Port:            srv.Port(),
		User:            "root",
		Auth:            auth,
		HostKeyCallback: ssh.FixedHostKey(srv.hostKey.PublicKey()),
		DialTimeout:     5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()
	auth, _ := generateTestKey(t)
	cb := ssh.InsecureIgnoreHostKey() //nolint:gosec // test

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{"nil config", nil, "config cannot be nil"},
		{"empty host", &Config{User: "root", Auth: []ssh.AuthMethod{auth}, HostKeyCallback: cb}, "host cannot be empty"},
		{"empty user", &Config{Host: "10.0.0.1", Auth: []ssh.AuthMethod{auth}, HostKeyCallback: cb}, "user cannot be empty"},
		{"no auth", &Config{Host: "10.0.0.1", User: "root", HostKeyCallback: cb}, "auth methods cannot be empty"},
		{"no host key callback", &Config{Host: "10.0.0.1", User: "root", Auth: []ssh.AuthMethod{auth}}, "host key callback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewClient(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	auth, _ := generateTestKey(t)

	c, err := NewClient(&Config{
		Host:            "fd00::1",
		User:            "root",
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // test
	})
	require.NoError(t, err)
	assert.Equal(t, defaultPort, c.config.Port)
	assert.Equal(t, defaultDialTimeout, c.config.DialTimeout)
	assert.Equal(t, "[fd00::1]:22", c.Addr())
}

func TestClient_Run(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	res, err := c.Run(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Success())
}

func TestClient_RunNonZeroExitIsNotAnError(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	res, err := c.Run(context.Background(), "fail now")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", res.Stdout)
	assert.Equal(t, "boom\n", res.Stderr)
	assert.False(t, res.Success())
}

func TestClient_ReusesConnection(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	for range 3 {
		_, err := c.Run(context.Background(), "true")
		require.NoError(t, err)
	}

	srv.mu.Lock()
	conns := len(srv.conns)
	srv.mu.Unlock()
	assert.Equal(t, 1, conns)
	assert.Equal(t, []string{"true", "true", "true"}, srv.Commands())
}

func TestClient_RedialsAfterDroppedConnection(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	_, err := c.Run(context.Background(), "true")
	require.NoError(t, err)

	srv.DropConnections()

	_, err = c.Run(context.Background(), "true")
	require.Error(t, err)
	assert.True(t, IsTransportError(err))

	res, err := c.Run(context.Background(), "echo back")
	require.NoError(t, err)
	assert.Equal(t, "back\n", res.Stdout)
}

func TestClient_PasswordAuth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, "s3cret", echoHandler)

	c := newTestClient(t, srv, PasswordAuth("s3cret")...)
	_, err := c.Run(context.Background(), "true")
	require.NoError(t, err)

	bad := newTestClient(t, srv, PasswordAuth("wrong")...)
	_, err = bad.Run(context.Background(), "true")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
}

func TestClient_DialFailure(t *testing.T) {
	t.Parallel()
	auth, _ := generateTestKey(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	c, err := NewClient(&Config{
		Host:            "127.0.0.1",
		Port:            port,
		User:            "root",
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // test
		DialTimeout:     time.Second,
	})
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "true")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "dial", te.Op)
	assert.Contains(t, te.Error(), "127.0.0.1")
}

func TestClient_UploadAndDownload(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	dir := t.TempDir()
	remote := filepath.Join(dir, "run.sh")

	require.NoError(t, c.Upload(context.Background(), []byte("echo hi\n"), remote, 0o700))

	info, err := os.Stat(remote)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	data, err := c.Download(context.Background(), remote)
	require.NoError(t, err)
	assert.Equal(t, "echo hi\n", string(data))
}

func TestClient_CopyToAndFrom(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	dir := t.TempDir()
	local := filepath.Join(dir, "bundle.sh")
	require.NoError(t, os.WriteFile(local, []byte("#!/usr/bin/env bash\n"), 0o600))

	remote := filepath.Join(dir, "remote-bundle.sh")
	require.NoError(t, c.CopyTo(context.Background(), local, remote, 0o700))

	back := filepath.Join(dir, "back.sh")
	require.NoError(t, c.CopyFrom(context.Background(), remote, back))

	data, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "#!/usr/bin/env bash\n", string(data))
}

func TestClient_DownloadMissingFile(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	_, err := c.Download(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
}

func TestClient_CancelledContext(t *testing.T) {
	t.Parallel()
	auth, signer := generateTestKey(t)
	srv := newTestServer(t, signer.PublicKey(), "", echoHandler)
	c := newTestClient(t, srv, auth)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Upload(ctx, []byte("x"), filepath.Join(t.TempDir(), "x"), 0o600)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyAuth_Invalid(t *testing.T) {
	t.Parallel()

	_, _, err := KeyAuth(nil, nil)
	assert.Error(t, err)

	_, _, err = KeyAuth([]byte("not a key"), nil)
	assert.Error(t, err)
}

func TestKeyFileAuth(t *testing.T) {
	t.Parallel()

	pair, err := keygen.GenerateRSAKeyPair(2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_rsa")
	require.NoError(t, pair.WriteFiles(path))

	method, err := KeyFileAuth(path)
	require.NoError(t, err)
	assert.NotNil(t, method)

	_, err = KeyFileAuth(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestAgentAuth_NoSocket(t *testing.T) {
	t.Parallel()

	_, _, err := AgentAuth("")
	assert.Error(t, err)

	_, _, err = AgentAuth(filepath.Join(t.TempDir(), "agent.sock"))
	assert.Error(t, err)
}
