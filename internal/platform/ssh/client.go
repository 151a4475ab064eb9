package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
)

// Config holds SSH client configuration.
type Config struct {
	Host string
	Port int
	User string

	// Auth lists the methods offered during authentication, in order.
	Auth []ssh.AuthMethod

	// HostKeyCallback handles host key verification. Required: use
	// HostKeyStore.Callback, or ssh.InsecureIgnoreHostKey() when the
	// caller has decided to disable checking.
	HostKeyCallback ssh.HostKeyCallback

	// HostKeyAlgorithms restricts the algorithms the server may present.
	HostKeyAlgorithms []string

	// DialTimeout bounds the TCP connect and the SSH handshake.
	// If zero, defaultDialTimeout is used.
	DialTimeout time.Duration
}

// Result is the outcome of a remote command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited 0.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Client runs commands and copies files on one node. The connection is
// dialed on first use and reused until a transport failure drops it.
type Client struct {
	config *Config
	addr   string

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

// NewClient validates cfg and returns a client. No connection is made.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if len(cfg.Auth) == 0 {
		return nil, fmt.Errorf("config auth methods cannot be empty")
	}
	if cfg.HostKeyCallback == nil {
		return nil, fmt.Errorf("config host key callback cannot be nil")
	}

	configCopy := *cfg
	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}

	return &Client{
		config: &configCopy,
		addr:   net.JoinHostPort(configCopy.Host, strconv.Itoa(configCopy.Port)),
	}, nil
}

// Addr returns the dial address with IPv6 literals bracketed.
func (c *Client) Addr() string { return c.addr }

// Connect dials if no connection is open.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connection(ctx)
	return err
}

func (c *Client) connection(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, &TransportError{Host: c.addr, Op: "dial", Err: err}
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:              c.config.User,
		Auth:              c.config.Auth,
		HostKeyCallback:   c.config.HostKeyCallback,
		HostKeyAlgorithms: c.config.HostKeyAlgorithms,
		Timeout:           c.config.DialTimeout,
	}

	// ssh.NewClientConn has no context; bound the handshake with a deadline.
	deadline := time.Now().Add(c.config.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = netConn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, c.addr, clientConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// drop closes the cached connection so the next call re-dials.
func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.closeLocked()
}

func (c *Client) closeLocked() error {
	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
		c.sftp = nil
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	return errors.Join(errs...)
}

// Close closes the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) fail(op string, err error) error {
	c.drop()
	return &TransportError{Host: c.addr, Op: op, Err: err}
}

// Run executes command and waits for it. A non-zero exit is reported in
// Result.ExitCode with a nil error. Cancelling ctx closes the channel and
// returns a TransportError wrapping ctx.Err().
func (c *Client) Run(ctx context.Context, command string) (Result, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return Result{}, err
	}

	session, err := conn.NewSession()
	if err != nil {
		return Result{}, c.fail("session", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return Result{}, &TransportError{Host: c.addr, Op: "exec", Err: ctx.Err()}
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	return res, c.fail("exec", err)
}

func (c *Client) sftpClient(ctx context.Context) (*sftp.Client, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp != nil {
		return c.sftp, nil
	}
	sc, err := sftp.NewClient(conn)
	if err != nil {
		_ = c.closeLocked()
		return nil, &TransportError{Host: c.addr, Op: "sftp", Err: err}
	}
	c.sftp = sc
	return sc, nil
}

// Upload writes data to remotePath with the given mode. The mode is applied
// before any content is written.
func (c *Client) Upload(ctx context.Context, data []byte, remotePath string, mode fs.FileMode) error {
	return c.upload(ctx, bytes.NewReader(data), remotePath, mode)
}

// CopyTo copies the local file at localPath to remotePath.
func (c *Client) CopyTo(ctx context.Context, localPath, remotePath string, mode fs.FileMode) error {
	f, err := os.Open(localPath) //nolint:gosec // caller-supplied path
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()
	return c.upload(ctx, f, remotePath, mode)
}

func (c *Client) upload(ctx context.Context, r io.Reader, remotePath string, mode fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Host: c.addr, Op: "upload", Err: err}
	}
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}

	f, err := sc.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return c.fail("upload", fmt.Errorf("open %s: %w", remotePath, err))
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return c.fail("upload", fmt.Errorf("chmod %s: %w", remotePath, err))
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return c.fail("upload", fmt.Errorf("write %s: %w", remotePath, err))
	}
	if err := f.Close(); err != nil {
		return c.fail("upload", fmt.Errorf("close %s: %w", remotePath, err))
	}
	return nil
}

// Download reads remotePath into memory.
func (c *Client) Download(ctx context.Context, remotePath string) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.download(ctx, remotePath, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CopyFrom copies remotePath to the local file localPath (mode 0600).
func (c *Client) CopyFrom(ctx context.Context, remotePath, localPath string) error {
	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // caller-supplied path
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if err := c.download(ctx, remotePath, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *Client) download(ctx context.Context, remotePath string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Host: c.addr, Op: "download", Err: err}
	}
	sc, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}

	f, err := sc.Open(remotePath)
	if err != nil {
		// A missing or unreadable file is not a broken connection.
		return &TransportError{Host: c.addr, Op: "download", Err: fmt.Errorf("open %s: %w", remotePath, err)}
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(w, f); err != nil {
		return c.fail("download", fmt.Errorf("read %s: %w", remotePath, err))
	}
	return nil
}
