package remote

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/cleanup"
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses. Every job ends in exactly one of completed, timedOut or failed.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timedOut"
	StatusFailed    Status = "failed"
)

// Defaults for a zero-valued Engine.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultTimeout         = 30 * time.Minute
	DefaultShell           = "bash"
	DefaultMaxPollFailures = 3
)

const (
	scriptName   = "run.sh"
	logName      = "run.log"
	exitName     = "run.exit"
	exitTempName = "run.exit.tmp"

	markerDone    = "__done__"
	markerRunning = "__running__"
)

var (
	workDirPattern  = regexp.MustCompile(`^/[A-Za-z0-9._/-]+$`)
	exitCodePattern = regexp.MustCompile(`^[0-9]+$`)
)

// Result describes a finished job.
type Result struct {
	Host        string
	Description string
	WorkDir     string
	Status      Status
	ExitCode    int
	Log         string
	Duration    time.Duration
}

// Recorder observes terminal job outcomes.
type Recorder interface {
	ObserveJob(host, description string, status Status, duration time.Duration)
}

// Archiver stores the log of a job that did not complete successfully.
type Archiver interface {
	ArchiveLog(ctx context.Context, host, description string, log []byte) error
}

// Engine runs detached jobs. The zero value is not usable: Cleanup must be
// set. Other zero fields fall back to the package defaults.
type Engine struct {
	PollInterval    time.Duration
	Timeout         time.Duration
	Shell           string
	KeepOnTimeout   bool
	MaxPollFailures int

	Log      logr.Logger
	Cleanup  *cleanup.Stack
	Recorder Recorder
	Archiver Archiver
}

// Future is the pending result of a started job.
type Future struct {
	done chan struct{}
	res  Result
	err  error
}

// Done is closed once the job reached a terminal status.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finishes.
func (f *Future) Wait() (Result, error) {
	<-f.done
	return f.res, f.err
}

// Start launches command on the node behind r and returns immediately.
// Cancelling ctx stops the controller side only; the remote process keeps
// running and its directory is left to the cleanup stack.
func (e *Engine) Start(ctx context.Context, r Runner, command, description string) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.res, f.err = e.run(ctx, r, command, description)
	}()
	return f
}

// Submit runs command and waits for its result.
func (e *Engine) Submit(ctx context.Context, r Runner, command, description string) (Result, error) {
	return e.Start(ctx, r, command, description).Wait()
}

func (e *Engine) run(ctx context.Context, r Runner, command, description string) (res Result, err error) {
	res = Result{Host: r.Host(), Description: description, Status: StatusPending}
	if e.Cleanup == nil {
		res.Status = StatusFailed
		return res, ErrEngineMisconfigured
	}

	start := time.Now()
	log := e.Log.WithValues("host", res.Host, "job", description)
	defer func() {
		res.Duration = time.Since(start)
		if e.Recorder != nil {
			e.Recorder.ObserveJob(res.Host, description, res.Status, res.Duration)
		}
	}()

	dir, err := MakeWorkDir(ctx, r)
	if err != nil {
		res.Status = StatusFailed
		return res, err
	}
	res.WorkDir = dir

	handle := e.Cleanup.Push(fmt.Sprintf("remove remote job dir %s on %s", dir, res.Host), func(ctx context.Context) error {
		return RemoveDir(ctx, r, dir)
	})

	script := "#!/usr/bin/env " + e.shell() + "\n" + command + "\n"
	if err := r.Upload(ctx, []byte(script), path.Join(dir, scriptName), 0o700); err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("failed to upload job script to %s: %w", res.Host, err)
	}

	out, err := r.Run(ctx, e.launchCommand(r, dir))
	if err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("failed to launch %s on %s: %w", description, res.Host, err)
	}
	if !out.Success() {
		res.Status = StatusFailed
		return res, fmt.Errorf("failed to launch %s on %s: exit %d: %s",
			description, res.Host, out.ExitCode, strings.TrimSpace(out.Stderr))
	}

	res.Status = StatusRunning
	log.V(1).Info("job started", "dir", dir)

	return e.wait(ctx, r, log, res, handle)
}

func (e *Engine) launchCommand(r Runner, dir string) string {
	q := shellescape.Quote
	shell := e.shell()
	exitTmp := path.Join(dir, exitTempName)

	inner := fmt.Sprintf("%s > %s 2>&1; echo $? > %s && mv %s %s",
		r.Elevate(shell+" "+q(path.Join(dir, scriptName))),
		q(path.Join(dir, logName)),
		q(exitTmp), q(exitTmp), q(path.Join(dir, exitName)))

	return fmt.Sprintf("nohup %s -c %s </dev/null >/dev/null 2>&1 &", shell, q(inner))
}

func (e *Engine) wait(ctx context.Context, r Runner, log logr.Logger, res Result, handle cleanup.Handle) (Result, error) {
	deadline := time.NewTimer(e.timeout())
	defer deadline.Stop()
	ticker := time.NewTicker(e.pollInterval())
	defer ticker.Stop()

	var failures int
	var lastLine string
	for {
		select {
		case <-ctx.Done():
			res.Status = StatusFailed
			return res, ctx.Err()
		case <-deadline.C:
			return e.timedOut(ctx, r, log, res, handle)
		case <-ticker.C:
		}

		done, detail, err := poll(ctx, r, res.WorkDir)
		if err != nil {
			if ctx.Err() != nil {
				res.Status = StatusFailed
				return res, ctx.Err()
			}
			failures++
			if failures >= e.maxPollFailures() {
				res.Status = StatusFailed
				return res, fmt.Errorf("lost contact with %s while polling %s: %w", res.Host, res.Description, err)
			}
			log.V(1).Info("poll failed, retrying", "attempt", failures, "error", err.Error())
			continue
		}
		failures = 0

		if !done {
			if detail != "" && detail != lastLine {
				log.Info("progress", "line", detail)
				lastLine = detail
			}
			continue
		}
		return e.complete(ctx, r, log, res, handle, detail)
	}
}

// poll checks for the exit file in one round trip. When present it returns
// the file content, otherwise the last log line.
func poll(ctx context.Context, r Runner, dir string) (bool, string, error) {
	q := shellescape.Quote
	cmd := fmt.Sprintf("if [ -f %s ]; then printf '%%s\\n' %s; cat %s; else printf '%%s\\n' %s; tail -n 1 %s 2>/dev/null || true; fi",
		q(path.Join(dir, exitName)), markerDone, q(path.Join(dir, exitName)),
		markerRunning, q(path.Join(dir, logName)))

	out, err := r.Run(ctx, cmd)
	if err != nil {
		return false, "", err
	}
	if !out.Success() {
		return false, "", fmt.Errorf("poll exited with code %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}

	marker, rest, _ := strings.Cut(out.Stdout, "\n")
	switch strings.TrimSpace(marker) {
	case markerDone:
		return true, strings.TrimSpace(rest), nil
	case markerRunning:
		return false, strings.TrimSpace(rest), nil
	default:
		return false, "", &ProtocolViolationError{Host: r.Host(), Detail: fmt.Sprintf("unexpected poll output %q", out.Stdout)}
	}
}

func (e *Engine) timedOut(ctx context.Context, r Runner, log logr.Logger, res Result, handle cleanup.Handle) (Result, error) {
	res.Status = StatusTimedOut
	res.Log = e.fetchLog(ctx, r, log, res.WorkDir)
	dumpLog(log, res.Log)
	e.archive(ctx, log, res)

	if e.KeepOnTimeout {
		e.Cleanup.Pop(handle)
		log.Info("job timed out, remote directory kept", "dir", res.WorkDir)
	} else {
		log.Info("job timed out, remote directory left until session teardown", "dir", res.WorkDir)
	}

	return res, &TimeoutError{Host: res.Host, Description: res.Description, WorkDir: res.WorkDir, Log: res.Log}
}

func (e *Engine) complete(ctx context.Context, r Runner, log logr.Logger, res Result, handle cleanup.Handle, exitContent string) (Result, error) {
	res.Log = e.fetchLog(ctx, r, log, res.WorkDir)

	var jobErr error
	if !exitCodePattern.MatchString(exitContent) {
		jobErr = &ProtocolViolationError{Host: res.Host, Detail: fmt.Sprintf("malformed exit file %q", exitContent)}
	} else if code, err := strconv.Atoi(exitContent); err != nil {
		jobErr = &ProtocolViolationError{Host: res.Host, Detail: fmt.Sprintf("exit code out of range %q", exitContent)}
	} else {
		res.ExitCode = code
		if code != 0 {
			jobErr = &CommandError{Host: res.Host, Description: res.Description, ExitCode: code, Log: res.Log}
		}
	}

	if err := RemoveDir(ctx, r, res.WorkDir); err != nil {
		log.Error(err, "failed to remove job directory, leaving it to teardown", "dir", res.WorkDir)
	} else {
		e.Cleanup.Pop(handle)
	}

	if jobErr != nil {
		res.Status = StatusFailed
		dumpLog(log, res.Log)
		e.archive(ctx, log, res)
		return res, jobErr
	}

	res.Status = StatusCompleted
	log.V(1).Info("job completed")
	return res, nil
}

func (e *Engine) fetchLog(ctx context.Context, r Runner, log logr.Logger, dir string) string {
	out, err := r.Run(ctx, "cat "+shellescape.Quote(path.Join(dir, logName)))
	if err != nil {
		log.Error(err, "failed to read job log")
		return ""
	}
	return out.Stdout
}

func (e *Engine) archive(ctx context.Context, log logr.Logger, res Result) {
	if e.Archiver == nil || res.Log == "" {
		return
	}
	if err := e.Archiver.ArchiveLog(ctx, res.Host, res.Description, []byte(res.Log)); err != nil {
		log.Error(err, "failed to archive job log")
	}
}

func dumpLog(log logr.Logger, content string) {
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		if line != "" {
			log.Info(line)
		}
	}
}

func (e *Engine) pollInterval() time.Duration {
	if e.PollInterval > 0 {
		return e.PollInterval
	}
	return DefaultPollInterval
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}

func (e *Engine) shell() string {
	if e.Shell != "" {
		return e.Shell
	}
	return DefaultShell
}

func (e *Engine) maxPollFailures() int {
	if e.MaxPollFailures > 0 {
		return e.MaxPollFailures
	}
	return DefaultMaxPollFailures
}
