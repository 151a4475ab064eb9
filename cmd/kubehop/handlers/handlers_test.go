package handlers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/provisioning/upgrade"
)

// captureStdout redirects reports into a buffer for the duration of the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = orig })
	return &buf
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
controlPlanes: [10.0.0.1]
workers: [10.0.0.2]
ssh:
  user: ubuntu
  port: 2222
kubernetes:
  cri: crio
`), 0o600))

	cfg, err := loadConfig(CommonOptions{
		ConfigPath:    path,
		Workers:       []string{"10.0.0.3", "10.0.0.4"},
		SSHUser:       "admin",
		RemoteTimeout: time.Minute,
	}, func(cfg *config.Config) {
		setString(&cfg.Kubernetes.PodCIDR, "10.10.0.0/16")
		setString(&cfg.Kubernetes.CRI, "")
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.1"}, cfg.ControlPlanes)
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.4"}, cfg.Workers)
	assert.Equal(t, "admin", cfg.SSH.User)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, "crio", cfg.Kubernetes.CRI)
	assert.Equal(t, "10.10.0.0/16", cfg.Kubernetes.PodCIDR)
	assert.Equal(t, time.Minute, cfg.Remote.Timeout)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(CommonOptions{ControlPlanes: []string{"10.0.0.1"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultSSHUser, cfg.SSH.User)
	assert.Equal(t, config.DefaultSSHPort, cfg.SSH.Port)
	assert.Equal(t, config.DefaultCRI, cfg.Kubernetes.CRI)
	assert.Equal(t, config.DefaultPodCIDR, cfg.Kubernetes.PodCIDR)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts CommonOptions
		want string
	}{
		{
			name: "no control plane",
			opts: CommonOptions{Workers: []string{"10.0.0.2"}},
			want: "control-plane",
		},
		{
			name: "missing file",
			opts: CommonOptions{ConfigPath: "/nonexistent/cluster.yaml"},
			want: "failed to load config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.opts, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestResolvePassword(t *testing.T) {
	dir := t.TempDir()

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(dir, "pw")
		require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))
		cfg := config.Default()
		cfg.SSH.PasswordFile = path

		require.NoError(t, resolvePassword(cfg))
		assert.Equal(t, "s3cret", cfg.SSH.Password)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty")
		require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))
		cfg := config.Default()
		cfg.SSH.PasswordFile = path

		assert.Error(t, resolvePassword(cfg))
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := config.Default()
		cfg.SSH.PasswordFile = filepath.Join(dir, "missing")

		err := resolvePassword(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read password file")
	})

	t.Run("none", func(t *testing.T) {
		cfg := config.Default()
		require.NoError(t, resolvePassword(cfg))
		assert.Empty(t, cfg.SSH.Password)
	})
}

func TestBundle(t *testing.T) {
	out := captureStdout(t)
	path := filepath.Join(t.TempDir(), "kubehop.sh")

	require.NoError(t, Bundle(BundleOptions{Output: path, Families: []string{"debian"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "bundle should be executable")
	assert.Contains(t, out.String(), "Wrote "+path)
}

func TestBundle_UnknownSubcommand(t *testing.T) {
	captureStdout(t)
	err := Bundle(BundleOptions{Output: filepath.Join(t.TempDir(), "x.sh"), Subcommands: []string{"reboot"}})
	assert.Error(t, err)
}

func TestDeploy_DryRun(t *testing.T) {
	out := captureStdout(t)
	metricsFile := filepath.Join(t.TempDir(), "metrics.prom")

	err := Deploy(context.Background(), DeployOptions{
		CommonOptions: CommonOptions{
			ControlPlanes: []string{"10.0.0.1", "10.0.0.2"},
			Workers:       []string{"10.0.0.3"},
			DryRun:        true,
			LogLevel:      "error",
			MetricsFile:   metricsFile,
		},
		HAVIP: "10.0.0.100",
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Deploy report")
	assert.Contains(t, out.String(), "0 succeeded, 0 failed, 3 not attempted")
	assert.FileExists(t, metricsFile)
}

func TestDeploy_InvalidConfig(t *testing.T) {
	captureStdout(t)
	err := Deploy(context.Background(), DeployOptions{
		CommonOptions: CommonOptions{ControlPlanes: []string{"10.0.0.1"}, DryRun: true, LogLevel: "error"},
		CRI:           "docker",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cri")
}

func TestUpgrade_DryRun(t *testing.T) {
	out := captureStdout(t)

	err := Upgrade(context.Background(), UpgradeOptions{
		CommonOptions: CommonOptions{
			ControlPlanes: []string{"10.0.0.1"},
			Workers:       []string{"10.0.0.2"},
			DryRun:        true,
			LogLevel:      "error",
		},
		FromVersion: "1.30.2",
		ToVersion:   "1.31.9",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Upgrade report")
}

func TestDeploy_SeveralControlPlanesNeedVIP(t *testing.T) {
	captureStdout(t)
	err := Deploy(context.Background(), DeployOptions{
		CommonOptions: CommonOptions{
			ControlPlanes: []string{"10.0.0.1", "10.0.0.2"},
			DryRun:        true,
			LogLevel:      "error",
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "require ha.vip")
}

func TestUpgrade_DryRunHighlyAvailable(t *testing.T) {
	out := captureStdout(t)

	err := Upgrade(context.Background(), UpgradeOptions{
		CommonOptions: CommonOptions{
			ControlPlanes: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
			Workers:       []string{"10.0.0.4"},
			DryRun:        true,
			LogLevel:      "error",
		},
		FromVersion: "1.30.2",
		ToVersion:   "1.31.9",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Upgrade report")
	for _, host := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		assert.Contains(t, out.String(), host)
	}
}

func TestUpgrade_InvalidTarget(t *testing.T) {
	err := Upgrade(context.Background(), UpgradeOptions{
		CommonOptions: CommonOptions{ControlPlanes: []string{"10.0.0.1"}, LogLevel: "error"},
		ToVersion:     "latest",
	})
	assert.Error(t, err)
}

func TestReleaseResolver(t *testing.T) {
	r, err := releaseResolver(nil)
	require.NoError(t, err)
	assert.IsType(t, &upgrade.HTTPResolver{}, r)

	r, err = releaseResolver([]string{"1.31=1.31.9"})
	require.NoError(t, err)
	chain, ok := r.(upgrade.ChainResolver)
	require.True(t, ok)
	require.Len(t, chain, 2)

	v, err := chain[0].LatestPatch(context.Background(), 1, 31)
	require.NoError(t, err)
	assert.Equal(t, "1.31.9", v.String())

	_, err = releaseResolver([]string{"1.31"})
	assert.Error(t, err)
}
