// Package remotetest provides an in-memory node that speaks the detached job
// protocol, for tests of code built on remote.Runner.
//
// A Node keeps a fake filesystem and answers the handful of shell commands
// the job engine issues: work dir creation, detached launch, polling, log
// reads and removal. Job bodies are handed to a JobFunc that decides their
// output and exit status. Nodes created from the same Cluster share one
// ordered journal of executed jobs.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/imamik/kubehop/internal/platform/ssh"
)

// Outcome is what a job does when launched.
type Outcome struct {
	// Output becomes the job log.
	Output string
	// ExitCode is written to the exit file.
	ExitCode int
	// RawExit, when set, replaces the exit file content verbatim.
	RawExit string
	// Hang keeps the job running forever.
	Hang bool
	// PendingPolls is the number of polls that see the job still running.
	PendingPolls int
}

// JobFunc decides the outcome of a job from its command line.
type JobFunc func(host, command string) Outcome

// ExecFunc answers a plain command that is not part of the job protocol.
type ExecFunc func(host, command string) ssh.Result

// Job is one executed job as recorded in the journal.
type Job struct {
	Host    string
	Command string
}

// Cluster groups nodes that share a job journal.
type Cluster struct {
	JobFunc  JobFunc
	ExecFunc ExecFunc

	mu    sync.Mutex
	jobs  []Job
	nodes map[string]*Node
}

// NewCluster returns a cluster whose jobs are decided by fn.
func NewCluster(fn JobFunc) *Cluster {
	return &Cluster{JobFunc: fn, nodes: make(map[string]*Node)}
}

// Node returns the node for host, creating it on first use.
func (c *Cluster) Node(host string, root bool) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[host]; ok {
		return n
	}
	n := &Node{cluster: c, host: host, root: root, files: map[string][]byte{}, dirs: map[string]bool{}, jobs: map[string]*job{}}
	c.nodes[host] = n
	return n
}

// Jobs returns every job executed across the cluster, in launch order.
func (c *Cluster) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Job(nil), c.jobs...)
}

// JobsOn returns the commands executed on host, in launch order.
func (c *Cluster) JobsOn(host string) []string {
	var out []string
	for _, j := range c.Jobs() {
		if j.Host == host {
			out = append(out, j.Command)
		}
	}
	return out
}

func (c *Cluster) record(host, command string) Outcome {
	c.mu.Lock()
	c.jobs = append(c.jobs, Job{Host: host, Command: command})
	fn := c.JobFunc
	c.mu.Unlock()

	if fn == nil {
		return Outcome{}
	}
	return fn(host, command)
}

type job struct {
	outcome Outcome
	polls   int
}

// Node is a fake remote.Runner.
type Node struct {
	cluster *Cluster
	host    string
	root    bool

	mu       sync.Mutex
	seq      int
	files    map[string][]byte
	dirs     map[string]bool
	jobs     map[string]*job
	commands []string
	failRuns int
	failErr  error
	workDir  string
}

// NewNode returns a standalone node whose jobs are decided by fn.
func NewNode(host string, root bool, fn JobFunc) *Node {
	return NewCluster(fn).Node(host, root)
}

// Host implements remote.Runner.
func (n *Node) Host() string { return n.host }

// Elevate implements remote.Runner.
func (n *Node) Elevate(command string) string {
	if n.root {
		return command
	}
	return "sudo -n " + command
}

// FailRuns makes the next count calls to Run fail with a transport error.
func (n *Node) FailRuns(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failRuns = count
	n.failErr = errors.New("connection reset by peer")
}

// ForceWorkDir makes the next work dir creation print dir verbatim.
func (n *Node) ForceWorkDir(dir string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.workDir = dir
}

// SetFile places a file on the node.
func (n *Node) SetFile(p string, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.files[p] = data
}

// File returns a file's content and whether it exists.
func (n *Node) File(p string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.files[p]
	return data, ok
}

// DirExists reports whether dir exists on the node.
func (n *Node) DirExists(dir string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dirs[dir]
}

// Dirs lists the directories currently on the node.
func (n *Node) Dirs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.dirs))
	for d := range n.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Commands returns every raw command passed to Run.
func (n *Node) Commands() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.commands...)
}

var (
	scriptPath = regexp.MustCompile(`(/[A-Za-z0-9._/-]+)/run\.sh`)
	exitPath   = regexp.MustCompile(`(/[A-Za-z0-9._/-]+)/run\.exit`)
)

// Run implements remote.Runner.
func (n *Node) Run(ctx context.Context, command string) (ssh.Result, error) {
	if err := ctx.Err(); err != nil {
		return ssh.Result{}, &ssh.TransportError{Host: n.host, Op: "exec", Err: err}
	}

	n.mu.Lock()
	n.commands = append(n.commands, command)
	if n.failRuns > 0 {
		n.failRuns--
		err := n.failErr
		n.mu.Unlock()
		return ssh.Result{}, &ssh.TransportError{Host: n.host, Op: "exec", Err: err}
	}
	n.mu.Unlock()

	plain := strings.TrimPrefix(command, "sudo -n ")
	switch {
	case strings.HasPrefix(command, `d=$(mktemp -d`):
		return n.mktemp(), nil
	case strings.HasPrefix(command, "nohup "):
		return n.launch(command)
	case strings.HasPrefix(command, "if [ -f "):
		return n.poll(command)
	case strings.HasPrefix(plain, "cat "):
		return n.cat(strings.Trim(strings.TrimPrefix(plain, "cat "), "'")), nil
	case strings.HasPrefix(plain, "rm -rf -- "):
		n.remove(strings.Trim(strings.TrimPrefix(plain, "rm -rf -- "), "'"))
		return ssh.Result{}, nil
	}

	if fn := n.cluster.ExecFunc; fn != nil {
		return fn(n.host, command), nil
	}
	if command == "true" {
		return ssh.Result{}, nil
	}
	return ssh.Result{Stderr: "command not found\n", ExitCode: 127}, nil
}

func (n *Node) mktemp() ssh.Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.workDir != "" {
		dir := n.workDir
		n.workDir = ""
		return ssh.Result{Stdout: dir + "\n"}
	}
	n.seq++
	dir := fmt.Sprintf("/tmp/kubehop.fake%04d", n.seq)
	n.dirs[dir] = true
	return ssh.Result{Stdout: dir + "\n"}
}

func (n *Node) launch(command string) (ssh.Result, error) {
	m := scriptPath.FindStringSubmatch(command)
	if m == nil {
		return ssh.Result{Stderr: "no script\n", ExitCode: 1}, nil
	}
	dir := m[1]

	n.mu.Lock()
	script, ok := n.files[path.Join(dir, "run.sh")]
	n.mu.Unlock()
	if !ok {
		return ssh.Result{Stderr: "run.sh: No such file or directory\n", ExitCode: 1}, nil
	}

	body := strings.TrimSpace(string(script))
	if i := strings.Index(body, "\n"); i >= 0 && strings.HasPrefix(body, "#!") {
		body = strings.TrimSpace(body[i+1:])
	}

	outcome := n.cluster.record(n.host, body)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.files[path.Join(dir, "run.log")] = []byte(outcome.Output)
	j := &job{outcome: outcome}
	n.jobs[dir] = j
	n.settle(dir, j)
	return ssh.Result{}, nil
}

// settle writes the exit file once the job has been polled past its
// pending count.
func (n *Node) settle(dir string, j *job) {
	if j.outcome.Hang || j.polls <= j.outcome.PendingPolls {
		return
	}
	content := fmt.Sprintf("%d\n", j.outcome.ExitCode)
	if j.outcome.RawExit != "" {
		content = j.outcome.RawExit
	}
	n.files[path.Join(dir, "run.exit")] = []byte(content)
}

func (n *Node) poll(command string) (ssh.Result, error) {
	m := exitPath.FindStringSubmatch(command)
	if m == nil {
		return ssh.Result{Stderr: "bad poll\n", ExitCode: 2}, nil
	}
	dir := m[1]

	n.mu.Lock()
	defer n.mu.Unlock()

	if j, ok := n.jobs[dir]; ok {
		j.polls++
		n.settle(dir, j)
	}
	if exit, ok := n.files[path.Join(dir, "run.exit")]; ok {
		return ssh.Result{Stdout: "__done__\n" + string(exit)}, nil
	}

	last := ""
	if log, ok := n.files[path.Join(dir, "run.log")]; ok {
		lines := strings.Split(strings.TrimRight(string(log), "\n"), "\n")
		last = lines[len(lines)-1]
	}
	return ssh.Result{Stdout: "__running__\n" + last + "\n"}, nil
}

func (n *Node) cat(p string) ssh.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.files[p]
	if !ok {
		return ssh.Result{Stderr: fmt.Sprintf("cat: %s: No such file or directory\n", p), ExitCode: 1}
	}
	return ssh.Result{Stdout: string(data)}
}

func (n *Node) remove(dir string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.dirs, dir)
	delete(n.jobs, dir)
	for p := range n.files {
		if strings.HasPrefix(p, dir+"/") {
			delete(n.files, p)
		}
	}
}

// Upload implements remote.Runner.
func (n *Node) Upload(ctx context.Context, data []byte, remotePath string, _ fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return &ssh.TransportError{Host: n.host, Op: "upload", Err: err}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.dirs[path.Dir(remotePath)] {
		return &ssh.TransportError{Host: n.host, Op: "upload", Err: fs.ErrNotExist}
	}
	n.files[remotePath] = append([]byte(nil), data...)
	return nil
}

// Download implements remote.Runner.
func (n *Node) Download(ctx context.Context, remotePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ssh.TransportError{Host: n.host, Op: "download", Err: err}
	}
	data, ok := n.File(remotePath)
	if !ok {
		return nil, &ssh.TransportError{Host: n.host, Op: "download", Err: fs.ErrNotExist}
	}
	return data, nil
}
