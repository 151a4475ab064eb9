package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/bundle"
	"github.com/imamik/kubehop/internal/cleanup"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/platform/s3"
	"github.com/imamik/kubehop/internal/platform/ssh"
)

// Default timeouts.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultPreflightTimeout = 2 * time.Minute
	DefaultCleanupTimeout   = time.Minute
)

// Conn is one node connection.
type Conn interface {
	Run(ctx context.Context, command string) (ssh.Result, error)
	Upload(ctx context.Context, data []byte, remotePath string, mode fs.FileMode) error
	Download(ctx context.Context, remotePath string) ([]byte, error)
}

// Connector hands out node connections.
type Connector interface {
	Connect(addr node.Address) (Conn, error)
	Close() error
}

// Options configures Open.
type Options struct {
	ControlPlanes []string
	Workers       []string
	Defaults      node.Defaults
	Credentials   Credentials

	// KnownHostsSeed seeds the session known_hosts file. It is a local path
	// or an s3:// URI; a missing seed starts empty.
	KnownHostsSeed string
	// PersistKnownHosts, when set, receives the known_hosts file on Close.
	PersistKnownHosts string

	DialTimeout      time.Duration
	PreflightTimeout time.Duration
	CleanupTimeout   time.Duration

	Store *s3.Store
	Log   logr.Logger

	// Home and AgentSocket drive credential discovery. Open fills them from
	// the environment when empty.
	Home        string
	AgentSocket string

	// Connector replaces SSH dialing, mainly for tests.
	Connector Connector
}

// Session is the state of one run.
type Session struct {
	opts     Options
	log      logr.Logger
	topology node.Topology
	store    *s3.Store

	auth       *Auth
	knownHosts string
	connector  Connector
	cleanup    *cleanup.Stack

	nodes map[string]*nodeState

	closeOnce sync.Once
	closeErr  error
}

type nodeState struct {
	addr   node.Address
	conn   Conn
	root   bool
	family bundle.Family
}

// Open validates the topology, resolves credentials, prepares the
// known_hosts file and preflights every node. Any failure leaves no node
// changed and no local state behind.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Log.GetSink() == nil {
		opts.Log = logr.Discard()
	}
	topo, err := node.ParseTopology(opts.ControlPlanes, opts.Workers, opts.Defaults)
	if err != nil {
		return nil, err
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		opts:     opts,
		log:      opts.Log,
		topology: topo,
		store:    opts.Store,
		cleanup:  cleanup.NewStack(opts.Log),
		nodes:    make(map[string]*nodeState, topo.Len()),
	}
	if s.store == nil {
		s.store = s3.NewStore(s3.Options{})
	}

	if err := s.setup(ctx); err != nil {
		s.release()
		return nil, err
	}
	if err := s.preflight(ctx); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func (s *Session) setup(ctx context.Context) error {
	path, err := s.createKnownHosts(ctx)
	if err != nil {
		return err
	}
	s.knownHosts = path

	if s.opts.Connector != nil {
		s.connector = s.opts.Connector
		return nil
	}

	home, sock := s.opts.Home, s.opts.AgentSocket
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	auth, err := s.opts.Credentials.Resolve(home, sock, s.log)
	if err != nil {
		return err
	}
	s.auth = auth
	s.log.V(1).Info("resolved SSH credentials", "source", auth.Source)

	policy := s.opts.Credentials.HostKeyPolicy
	if policy == "" {
		policy = ssh.HostKeyAcceptNew
	}
	hostKeys, err := ssh.NewHostKeyStore(s.knownHosts, policy, s.log)
	if err != nil {
		return err
	}

	dial := s.opts.DialTimeout
	if dial <= 0 {
		dial = DefaultDialTimeout
	}
	s.connector = &poolConnector{pool: ssh.NewPool(ssh.PoolConfig{
		Auth:        auth.Methods,
		HostKeys:    hostKeys,
		DialTimeout: dial,
	})}
	return nil
}

func (s *Session) createKnownHosts(ctx context.Context) (string, error) {
	var seed []byte
	if s.opts.KnownHostsSeed != "" {
		data, err := s.store.Read(ctx, s.opts.KnownHostsSeed)
		switch {
		case errors.Is(err, s3.ErrNotFound):
			s.log.V(1).Info("known_hosts seed not found, starting empty", "seed", s.opts.KnownHostsSeed)
		case err != nil:
			return "", fmt.Errorf("failed to read known_hosts seed: %w", err)
		default:
			seed = data
		}
	}

	f, err := os.CreateTemp("", "kubehop-known-hosts-*")
	if err != nil {
		return "", fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	path := f.Name()
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to chmod known_hosts file: %w", err)
	}
	if _, err := f.Write(seed); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to seed known_hosts file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write known_hosts file: %w", err)
	}
	return path, nil
}

func (s *Session) preflight(ctx context.Context) error {
	timeout := s.opts.PreflightTimeout
	if timeout <= 0 {
		timeout = DefaultPreflightTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, m := range s.topology.Ordered() {
		st, err := s.check(ctx, m.Address)
		if err != nil {
			return err
		}
		s.nodes[m.Address.Key()] = st
		s.log.Info("preflight passed", "host", m.Address.Host(), "role", string(m.Role),
			"family", string(st.family), "root", st.root)
	}
	return nil
}

func (s *Session) check(ctx context.Context, addr node.Address) (*nodeState, error) {
	host := addr.Host()
	fail := func(step string, err error) (*nodeState, error) {
		return nil, &ConnectivityError{Host: host, Step: step, Err: err}
	}

	conn, err := s.connector.Connect(addr)
	if err != nil {
		return fail("connect", err)
	}

	res, err := conn.Run(ctx, "true")
	if err != nil {
		return fail("connect", err)
	}
	if !res.Success() {
		return fail("connect", fmt.Errorf("shell exited with code %d", res.ExitCode))
	}

	res, err = conn.Run(ctx, "id -u")
	if err != nil {
		return fail("identity", err)
	}
	uid := strings.TrimSpace(res.Stdout)
	if !res.Success() || uid == "" {
		return fail("identity", fmt.Errorf("id -u exited with code %d", res.ExitCode))
	}
	st := &nodeState{addr: addr, conn: conn, root: uid == "0"}

	if !st.root {
		res, err = conn.Run(ctx, "sudo -n true")
		if err != nil {
			return fail("sudo", err)
		}
		if !res.Success() {
			return fail("sudo", fmt.Errorf("user %s has no passwordless sudo: %s",
				addr.User(), strings.TrimSpace(res.Stderr)))
		}
	}

	res, err = conn.Run(ctx, "cat /etc/os-release")
	if err != nil {
		return fail("os-release", err)
	}
	if !res.Success() {
		return fail("os-release", fmt.Errorf("cannot read /etc/os-release: %s", strings.TrimSpace(res.Stderr)))
	}
	family, err := bundle.FamilyFor(bundle.ParseOSRelease(res.Stdout))
	if err != nil {
		return fail("os-release", err)
	}
	st.family = family
	return st, nil
}

// Topology returns the validated node lists.
func (s *Session) Topology() node.Topology { return s.topology }

// Cleanup returns the session cleanup stack.
func (s *Session) Cleanup() *cleanup.Stack { return s.cleanup }

// KnownHostsPath returns the session known_hosts file.
func (s *Session) KnownHostsPath() string { return s.knownHosts }

// Store returns the artifact store shared by the session.
func (s *Session) Store() *s3.Store { return s.store }

// Families returns the distinct distribution families of all nodes, in
// bundle family order.
func (s *Session) Families() []bundle.Family {
	seen := map[bundle.Family]bool{}
	for _, st := range s.nodes {
		seen[st.family] = true
	}
	out := make([]bundle.Family, 0, len(seen))
	for _, f := range bundle.Families {
		if seen[f] {
			out = append(out, f)
		}
	}
	return out
}

// Family returns the distribution family detected on addr.
func (s *Session) Family(addr node.Address) (bundle.Family, bool) {
	st, ok := s.nodes[addr.Key()]
	if !ok {
		return "", false
	}
	return st.family, true
}

// Hosts returns the hosts of all preflighted nodes, sorted.
func (s *Session) Hosts() []string {
	out := make([]string, 0, len(s.nodes))
	for _, st := range s.nodes {
		out = append(out, st.addr.Host())
	}
	sort.Strings(out)
	return out
}

// Runner returns the runner bound to addr.
func (s *Session) Runner(addr node.Address) (*Runner, error) {
	st, ok := s.nodes[addr.Key()]
	if !ok {
		return nil, fmt.Errorf("node %s is not part of this session", addr)
	}
	return &Runner{addr: st.addr, conn: st.conn, root: st.root}, nil
}

// Close drains the cleanup stack, closes every connection, persists the
// known_hosts file when requested and removes it. Cleanup handlers get a
// fresh bounded context so they run even after ctx was cancelled. Only the
// first call does any work.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		timeout := s.opts.CleanupTimeout
		if timeout <= 0 {
			timeout = DefaultCleanupTimeout
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		var errs []error
		if n := s.cleanup.Len(); n > 0 {
			s.log.Info("running cleanup handlers", "count", n)
		}
		if err := s.cleanup.RunAll(cctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.persistKnownHosts(cctx); err != nil {
			errs = append(errs, err)
		}
		s.release()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Session) persistKnownHosts(ctx context.Context) error {
	if s.opts.PersistKnownHosts == "" || s.knownHosts == "" {
		return nil
	}
	data, err := os.ReadFile(s.knownHosts)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts file: %w", err)
	}
	if err := s.store.Write(ctx, s.opts.PersistKnownHosts, data, 0o600); err != nil {
		return fmt.Errorf("failed to persist known_hosts: %w", err)
	}
	s.log.V(1).Info("persisted known_hosts", "target", s.opts.PersistKnownHosts)
	return nil
}

// release closes connections and removes local state.
func (s *Session) release() {
	if s.connector != nil {
		if err := s.connector.Close(); err != nil {
			s.log.V(1).Info("failed to close connections", "error", err.Error())
		}
	}
	if err := s.auth.Close(); err != nil {
		s.log.V(1).Info("failed to close ssh-agent connection", "error", err.Error())
	}
	if s.knownHosts != "" {
		_ = os.Remove(s.knownHosts)
	}
}

type poolConnector struct {
	pool *ssh.Pool
}

func (p *poolConnector) Connect(addr node.Address) (Conn, error) {
	c, err := p.pool.Get(addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *poolConnector) Close() error {
	return p.pool.Close()
}
