package deploy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/platform/ssh"
	"github.com/imamik/kubehop/internal/provisioning"
	"github.com/imamik/kubehop/internal/provisioning/provisioningtest"
	"github.com/imamik/kubehop/internal/remote"
	"github.com/imamik/kubehop/internal/remote/remotetest"
)

const (
	testToken = "abcdef.0123456789abcdef"
	testHash  = "sha256:0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testKey   = "fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210"
	testVIP   = "10.0.0.100"
)

// kubeadmJobs answers the credential subcommands like kubeadm would and
// lets everything else succeed unless fail says otherwise.
func kubeadmJobs(fail func(host, sub string) bool) remotetest.JobFunc {
	return func(host, command string) remotetest.Outcome {
		sub := subcommand(command)
		if fail != nil && fail(host, sub) {
			return remotetest.Outcome{Output: "[ERROR] " + sub + " failed on " + host + "\n", ExitCode: 1}
		}
		switch sub {
		case "print-join":
			return remotetest.Outcome{Output: "kubeadm join 10.0.0.1:6443 --token " + testToken + " --discovery-token-ca-cert-hash " + testHash + "\n"}
		case "upload-certs":
			return remotetest.Outcome{Output: "[upload-certs] Using certificate key:\n" + testKey + "\n"}
		}
		return remotetest.Outcome{Output: sub + " ok\n"}
	}
}

// subcommand extracts the bundle subcommand from "bash <path> <sub> ...".
func subcommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) < 3 {
		return ""
	}
	return fields[2]
}

func subcommands(commands []string) []string {
	out := make([]string, 0, len(commands))
	for _, c := range commands {
		out = append(out, subcommand(c))
	}
	return out
}

type fixture struct {
	ctx     *provisioning.Context
	nodes   *provisioningtest.Nodes
	cluster *remotetest.Cluster
	log     *provisioningtest.Log
}

func newFixture(t *testing.T, fn remotetest.JobFunc, cps, workers []string, vip string) *fixture {
	t.Helper()
	cluster := remotetest.NewCluster(fn)
	nodes := provisioningtest.NewNodes(cluster, cps, workers)

	cfg := config.Default()
	cfg.ControlPlanes = cps
	cfg.Workers = workers
	cfg.HA.VIP = vip
	cfg.ApplyDefaults()

	log, logger := provisioningtest.NewLog()
	jobs := &remote.Engine{
		PollInterval: time.Millisecond,
		Timeout:      5 * time.Second,
		Log:          logr.Discard(),
		Cleanup:      nodes.Stack,
	}
	ctx := provisioning.NewContext(context.Background(), cfg, nodes, jobs, logger)
	ctx.Timeouts = &config.Timeouts{
		JoinRetryAttempt: 2,
		JoinRetryDelay:   time.Millisecond,
		NodeReady:        time.Second,
	}
	return &fixture{ctx: ctx, nodes: nodes, cluster: cluster, log: log}
}

func TestProvision_SingleNode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kubeadmJobs(nil), []string{"10.0.0.1"}, nil, "")
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	require.NoError(t, p.Provision(f.ctx))

	assert.Equal(t, []string{"prepare", "init"}, subcommands(f.cluster.JobsOn("10.0.0.1")))
	init := f.cluster.JobsOn("10.0.0.1")[1]
	assert.Contains(t, init, "--endpoint 10.0.0.1")
	assert.Contains(t, init, "--pod-cidr 10.244.0.0/16")
	assert.NotContains(t, init, "--upload-certs")

	assert.Equal(t, []State{
		StateValidated, StateBundled, StateFirstCPInitialized,
		StateAdditionalCPsJoined, StateWorkersJoined, StateDone,
	}, p.States())
	assert.Equal(t, 1, f.ctx.Report.Count(provisioning.OutcomeSucceeded))
}

func TestProvision_WorkerFailureStopsLaterWorkers(t *testing.T) {
	t.Parallel()
	fail := func(host, sub string) bool { return host == "10.0.0.11" && sub == "join" }
	f := newFixture(t, kubeadmJobs(fail), []string{"10.0.0.1"}, []string{"10.0.0.11", "10.0.0.12"}, "")
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	err := p.Provision(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join on 10.0.0.11")
	assert.True(t, remote.IsCommandError(err))

	assert.Empty(t, f.cluster.JobsOn("10.0.0.12"), "no job may run on a worker after an earlier failure")
	assert.Equal(t, StateFailed, p.State())
	assert.NotContains(t, p.States(), StateWorkersJoined)

	cp, ok := f.ctx.Report.Result("", "10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, provisioning.OutcomeSucceeded, cp.Outcome)

	w1, ok := f.ctx.Report.Result("", "10.0.0.11")
	require.True(t, ok)
	assert.Equal(t, provisioning.OutcomeFailed, w1.Outcome)
	assert.Equal(t, "join", w1.Step)
	assert.Contains(t, w1.LogTail, "join failed on 10.0.0.11")

	w2, ok := f.ctx.Report.Result("", "10.0.0.12")
	require.True(t, ok)
	assert.Equal(t, provisioning.OutcomeNotAttempted, w2.Outcome)
	assert.True(t, f.log.Contains("skipped: an earlier node failed"))
}

func TestProvision_HighlyAvailable(t *testing.T) {
	t.Parallel()
	cps := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	f := newFixture(t, kubeadmJobs(nil), cps, []string{"10.0.0.11"}, testVIP)
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	require.NoError(t, p.Provision(f.ctx))

	cp1 := f.cluster.JobsOn("10.0.0.1")
	require.Equal(t, []string{"prepare", "vip-up", "init", "print-join", "upload-certs"}, subcommands(cp1))
	assert.NotContains(t, cp1[1], "--no-preadd")
	assert.Contains(t, cp1[1], "--vip "+testVIP+" --interface eth0")
	assert.Contains(t, cp1[2], "--endpoint "+testVIP)
	assert.Contains(t, cp1[2], "--upload-certs")

	for _, host := range []string{"10.0.0.2", "10.0.0.3"} {
		jobs := f.cluster.JobsOn(host)
		require.Equal(t, []string{"prepare", "join", "vip-up"}, subcommands(jobs), host)
		assert.Contains(t, jobs[1], "--control-plane --certificate-key "+testKey)
		assert.Contains(t, jobs[1], "--token "+testToken)
		assert.Contains(t, jobs[2], "--no-preadd")
	}

	worker := f.cluster.JobsOn("10.0.0.11")
	require.Equal(t, []string{"prepare", "join"}, subcommands(worker))
	assert.NotContains(t, worker[1], "--control-plane")
	assert.Contains(t, worker[1], "--discovery-hash "+testHash)

	// Control planes join one after another, before any worker.
	var order []string
	for _, j := range f.cluster.Jobs() {
		if len(order) == 0 || order[len(order)-1] != j.Host {
			order = append(order, j.Host)
		}
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.11"}, order)

	assert.Contains(t, p.States(), StateHACertsUploaded)
	for _, d := range f.nodes.Stack.Descriptions() {
		assert.NotContains(t, d, "pre-added VIP")
	}
	assert.Equal(t, 4, f.ctx.Report.Count(provisioning.OutcomeSucceeded))
}

func TestProvision_FailedInitRemovesPreAddedVIP(t *testing.T) {
	t.Parallel()
	fail := func(host, sub string) bool { return sub == "init" }
	f := newFixture(t, kubeadmJobs(fail), []string{"10.0.0.1", "10.0.0.2"}, nil, testVIP)

	var mu sync.Mutex
	var execs []string
	f.cluster.ExecFunc = func(host, command string) ssh.Result {
		mu.Lock()
		defer mu.Unlock()
		execs = append(execs, host+": "+command)
		return ssh.Result{}
	}
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	err := p.Provision(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init on 10.0.0.1")
	assert.Empty(t, f.cluster.JobsOn("10.0.0.2"))

	require.NoError(t, f.nodes.Stack.RunAll(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, execs, 1)
	assert.Contains(t, execs[0], "10.0.0.1: ")
	assert.Contains(t, execs[0], "vip-down --vip "+testVIP+" --interface eth0")
}

func TestProvision_SeveralControlPlanesWithoutVIP(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kubeadmJobs(nil), []string{"10.0.0.1", "10.0.0.2"}, nil, "")
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	err := p.Provision(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require a virtual IP")
	assert.Empty(t, f.cluster.Jobs())
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, 2, f.ctx.Report.Count(provisioning.OutcomeNotAttempted))
}

func TestProvision_VIPIgnoredForSingleControlPlane(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kubeadmJobs(nil), []string{"10.0.0.1"}, []string{"10.0.0.11"}, testVIP)
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	require.NoError(t, p.Provision(f.ctx))
	assert.NotContains(t, subcommands(f.cluster.JobsOn("10.0.0.1")), "vip-up")
	assert.NotContains(t, subcommands(f.cluster.JobsOn("10.0.0.1")), "upload-certs")
	assert.True(t, f.log.Contains("Ignoring VIP"))
}

func TestProvision_DryRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kubeadmJobs(nil), []string{"10.0.0.1", "10.0.0.2"}, []string{"10.0.0.11"}, testVIP)
	f.ctx.DryRun = true
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	require.NoError(t, p.Provision(f.ctx))

	assert.Empty(t, f.cluster.Jobs())
	for _, host := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.11"} {
		assert.Empty(t, f.nodes.Node(host).Commands(), host)
	}
	assert.Zero(t, f.nodes.Stack.Len())
	assert.True(t, f.log.Contains("[DRY RUN] Would run: bash"))
	assert.True(t, f.log.Contains("--certificate-key"))
	assert.Equal(t, StateDone, p.State())
}

func TestProvision_ParallelWorkers(t *testing.T) {
	t.Parallel()
	var running, peak atomic.Int32
	release := make(chan struct{})
	var once sync.Once

	fn := kubeadmJobs(nil)
	f := newFixture(t, func(host, command string) remotetest.Outcome {
		if subcommand(command) == "join" {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			if n == 2 {
				once.Do(func() { close(release) })
			}
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			}
			running.Add(-1)
		}
		return fn(host, command)
	}, []string{"10.0.0.1"}, []string{"10.0.0.11", "10.0.0.12", "10.0.0.13"}, "")
	p := NewProvisioner(ProvisionerOptions{WorkerParallelism: 2, Log: logr.Discard()})

	require.NoError(t, p.Provision(f.ctx))
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, 4, f.ctx.Report.Count(provisioning.OutcomeSucceeded))
}

func TestProvision_ParallelWorkerFailureLetsRunningJoinsFinish(t *testing.T) {
	t.Parallel()
	w2Joining := make(chan struct{})
	var once sync.Once

	fn := kubeadmJobs(nil)
	f := newFixture(t, func(host, command string) remotetest.Outcome {
		if subcommand(command) == "join" {
			switch host {
			case "10.0.0.11":
				select {
				case <-w2Joining:
				case <-time.After(2 * time.Second):
				}
				return remotetest.Outcome{Output: "[ERROR] join failed on " + host + "\n", ExitCode: 1}
			case "10.0.0.12":
				once.Do(func() { close(w2Joining) })
				return remotetest.Outcome{Output: "join ok\n", PendingPolls: 200}
			}
		}
		return fn(host, command)
	}, []string{"10.0.0.1"}, []string{"10.0.0.11", "10.0.0.12", "10.0.0.13"}, "")
	p := NewProvisioner(ProvisionerOptions{WorkerParallelism: 2, Log: logr.Discard()})

	err := p.Provision(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join on 10.0.0.11")

	w1, ok := f.ctx.Report.Result("", "10.0.0.11")
	require.True(t, ok)
	assert.Equal(t, provisioning.OutcomeFailed, w1.Outcome)

	w2, ok := f.ctx.Report.Result("", "10.0.0.12")
	require.True(t, ok)
	assert.Equal(t, provisioning.OutcomeSucceeded, w2.Outcome, "a join already running must finish")

	w3, ok := f.ctx.Report.Result("", "10.0.0.13")
	require.True(t, ok)
	assert.Equal(t, provisioning.OutcomeNotAttempted, w3.Outcome)
	assert.Empty(t, f.cluster.JobsOn("10.0.0.13"))

	for _, desc := range f.nodes.Stack.Descriptions() {
		assert.NotContains(t, desc, "remote job dir", "finished jobs remove their own directory")
	}
}

func TestProvision_KubeconfigAndWaitReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kubeadmJobs(nil), []string{"10.0.0.1"}, []string{"10.0.0.11"}, "")
	f.nodes.Node("10.0.0.1").SetFile(AdminKubeconfigPath, []byte("apiVersion: v1\nkind: Config\n"))
	out := t.TempDir() + "/admin.conf"

	var waited int
	p := NewProvisioner(ProvisionerOptions{
		KubeconfigOut: out,
		WaitReady: func(_ context.Context, kubeconfig []byte, expected int, _ time.Duration) error {
			assert.Contains(t, string(kubeconfig), "kind: Config")
			waited = expected
			return nil
		},
		Log: logr.Discard(),
	})

	require.NoError(t, p.Provision(f.ctx))
	assert.Equal(t, 2, waited)
	assert.Contains(t, string(f.ctx.State.Kubeconfig), "kind: Config")

	data, err := p.opts.Store.Read(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, f.ctx.State.Kubeconfig, data)
}

func TestProvision_WaitReadyFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, kubeadmJobs(nil), []string{"10.0.0.1"}, nil, "")
	f.nodes.Node("10.0.0.1").SetFile(AdminKubeconfigPath, []byte("kind: Config\n"))
	p := NewProvisioner(ProvisionerOptions{
		WaitReady: func(context.Context, []byte, int, time.Duration) error {
			return errors.New("nodes not ready")
		},
		Log: logr.Discard(),
	})

	err := p.Provision(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait-ready phase failed")
	assert.Equal(t, StateFailed, p.State())
}

func TestProvision_CredentialFailureAbortsJoins(t *testing.T) {
	t.Parallel()
	fail := func(_, sub string) bool { return sub == "print-join" }
	f := newFixture(t, kubeadmJobs(fail), []string{"10.0.0.1"}, []string{"10.0.0.11"}, "")
	p := NewProvisioner(ProvisionerOptions{Log: logr.Discard()})

	err := p.Provision(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract join credentials")
	assert.Len(t, subcommands(f.cluster.JobsOn("10.0.0.1")), 4, "print-join is retried once")
	assert.Empty(t, f.cluster.JobsOn("10.0.0.11"))
	assert.Equal(t, []State{StateValidated, StateBundled, StateFirstCPInitialized, StateFailed}, p.States())
}
