// Package handlers implements the kubehop commands: it turns parsed flags
// into a validated configuration, opens the SSH session and runs the
// provisioners.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/term"

	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/logging"
	"github.com/imamik/kubehop/internal/metrics"
	"github.com/imamik/kubehop/internal/platform/s3"
	"github.com/imamik/kubehop/internal/platform/ssh"
	"github.com/imamik/kubehop/internal/provisioning"
	"github.com/imamik/kubehop/internal/remote"
	"github.com/imamik/kubehop/internal/session"
)

// Environment variables holding static object storage credentials.
const (
	envS3AccessKey = "KUBEHOP_S3_ACCESS_KEY"
	envS3SecretKey = "KUBEHOP_S3_SECRET_KEY"
)

// stdout receives reports; stdin is read for passwords.
var (
	stdout io.Writer = os.Stdout
	stdin            = os.Stdin
)

// CommonOptions are the flags shared by deploy and upgrade. Zero values
// leave the configuration file untouched.
type CommonOptions struct {
	ConfigPath    string
	ControlPlanes []string
	Workers       []string

	SSHUser              string
	SSHPort              int
	SSHKey               string
	SSHPassword          string
	SSHPasswordFile      string
	SSHKnownHosts        string
	SSHPersistKnownHosts string
	SSHHostKeyCheck      string

	RemoteTimeout  time.Duration
	PollInterval   time.Duration
	KeepRemoteLogs bool
	DryRun         bool

	LogLevel    string
	LogFormat   string
	MetricsFile string
	LogArchive  string
}

// loadConfig reads the configuration file, if any, and applies the flags
// on top of it.
func loadConfig(opts CommonOptions, override func(*config.Config)) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadFile(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if len(opts.ControlPlanes) > 0 {
		cfg.ControlPlanes = opts.ControlPlanes
	}
	if len(opts.Workers) > 0 {
		cfg.Workers = opts.Workers
	}
	setString(&cfg.SSH.User, opts.SSHUser)
	if opts.SSHPort != 0 {
		cfg.SSH.Port = opts.SSHPort
	}
	setString(&cfg.SSH.Key, opts.SSHKey)
	setString(&cfg.SSH.Password, opts.SSHPassword)
	setString(&cfg.SSH.PasswordFile, opts.SSHPasswordFile)
	setString(&cfg.SSH.KnownHosts, opts.SSHKnownHosts)
	setString(&cfg.SSH.PersistKnownHosts, opts.SSHPersistKnownHosts)
	setString(&cfg.SSH.HostKeyCheck, opts.SSHHostKeyCheck)
	if opts.RemoteTimeout != 0 {
		cfg.Remote.Timeout = opts.RemoteTimeout
	}
	if opts.PollInterval != 0 {
		cfg.Remote.PollInterval = opts.PollInterval
	}
	if opts.KeepRemoteLogs {
		cfg.Remote.KeepLogs = true
	}
	setString(&cfg.Artifacts.LogArchive, opts.LogArchive)
	if override != nil {
		override(cfg)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// resolvePassword loads the SSH password from the password file. "-" reads
// it from the terminal without echo.
func resolvePassword(cfg *config.Config) error {
	switch path := cfg.SSH.PasswordFile; path {
	case "":
		return nil
	case "-":
		fd := int(stdin.Fd())
		if !term.IsTerminal(fd) {
			return errors.New("--ssh-password-file - needs an interactive terminal")
		}
		_, _ = fmt.Fprint(os.Stderr, "SSH password: ")
		pw, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		cfg.SSH.Password = string(pw)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read password file: %w", err)
		}
		cfg.SSH.Password = strings.TrimRight(string(data), "\r\n")
	}
	if cfg.SSH.Password == "" {
		return errors.New("the SSH password is empty")
	}
	return nil
}

// runner carries everything one command run needs.
type runner struct {
	opts     CommonOptions
	cfg      *config.Config
	log      logr.Logger
	timeouts *config.Timeouts
	store    *s3.Store
	metrics  *metrics.Metrics
}

func newRunner(opts CommonOptions, cfg *config.Config, log logr.Logger) *runner {
	timeouts := config.LoadTimeouts()
	timeouts.Apply(cfg.Remote)
	return &runner{
		opts:     opts,
		cfg:      cfg,
		log:      log,
		timeouts: timeouts,
		store: s3.NewStore(s3.Options{
			Endpoint:  cfg.Artifacts.S3.Endpoint,
			Region:    cfg.Artifacts.S3.Region,
			AccessKey: os.Getenv(envS3AccessKey),
			SecretKey: os.Getenv(envS3SecretKey),
			PathStyle: cfg.Artifacts.S3.Endpoint != "",
		}),
		metrics: metrics.New(),
	}
}

// run opens the session, runs phase and prints the report. The session is
// closed even when the run context is cancelled.
func (r *runner) run(ctx context.Context, title string, phase provisioning.Phase) (err error) {
	nodes, jobs, closeFn, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeouts.Cleanup)
		defer cancel()
		if cerr := closeFn(cctx); cerr != nil {
			r.log.Error(cerr, "session cleanup failed")
			if err == nil {
				err = cerr
			}
		}
	}()

	pctx := provisioning.NewContext(ctx, r.cfg, nodes, jobs, r.log)
	pctx.Timeouts = r.timeouts
	pctx.Metrics = r.metrics
	pctx.Report = provisioning.NewReport(title)
	pctx.DryRun = r.opts.DryRun

	err = phase.Provision(pctx)

	_, _ = fmt.Fprintln(stdout)
	pctx.Report.Render(stdout)
	pctx.Report.Record(r.metrics)
	if r.opts.MetricsFile != "" {
		if werr := r.metrics.WriteFile(r.opts.MetricsFile); werr != nil {
			r.log.Error(werr, "writing metrics failed")
		}
	}
	return err
}

// open returns the node set and job runner for this run. Dry runs never
// connect to a node.
func (r *runner) open(ctx context.Context) (provisioning.Nodes, provisioning.Jobs, func(context.Context) error, error) {
	topo, err := r.cfg.Topology()
	if err != nil {
		return nil, nil, nil, err
	}
	if r.opts.DryRun {
		nodes := newOfflineNodes(topo, r.log)
		return nodes, nil, func(ctx context.Context) error { return nodes.Cleanup().RunAll(ctx) }, nil
	}

	if err := resolvePassword(r.cfg); err != nil {
		return nil, nil, nil, err
	}
	policy, err := ssh.ParseHostKeyPolicy(r.cfg.SSH.HostKeyCheck)
	if err != nil {
		return nil, nil, nil, err
	}

	sess, err := session.Open(ctx, session.Options{
		ControlPlanes: r.cfg.ControlPlanes,
		Workers:       r.cfg.Workers,
		Defaults:      r.cfg.Defaults(),
		Credentials: session.Credentials{
			PrivateKeyPath: r.cfg.SSH.Key,
			Password:       r.cfg.SSH.Password,
			UseAgent:       r.cfg.SSH.Password == "",
			HostKeyPolicy:  policy,
		},
		KnownHostsSeed:    r.cfg.SSH.KnownHosts,
		PersistKnownHosts: r.cfg.SSH.PersistKnownHosts,
		DialTimeout:       r.timeouts.Dial,
		PreflightTimeout:  r.timeouts.Preflight,
		CleanupTimeout:    r.timeouts.Cleanup,
		Store:             r.store,
		Log:               r.log.WithName("session"),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	engine := &remote.Engine{
		PollInterval:  r.timeouts.PollInterval,
		Timeout:       r.timeouts.RemoteJob,
		KeepOnTimeout: r.cfg.Remote.KeepLogs,
		Log:           r.log.WithName("remote"),
		Cleanup:       sess.Cleanup(),
		Recorder:      r.metrics,
	}
	if r.cfg.Artifacts.LogArchive != "" {
		engine.Archiver = s3.NewLogArchive(r.store, r.cfg.Artifacts.LogArchive, "")
	}
	return provisioning.FromSession(sess), engine, sess.Close, nil
}

// newLogger builds the process logger from the logging flags.
func newLogger(opts CommonOptions) (logr.Logger, func(), error) {
	return logging.New(logging.Options{Level: opts.LogLevel, Format: opts.LogFormat})
}
