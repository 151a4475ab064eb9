package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploy(t *testing.T) {
	cmd := Deploy()

	require.NotNil(t, cmd)
	assert.Equal(t, "deploy", cmd.Use)
	assert.Equal(t, "Bootstrap a Kubernetes cluster on the given nodes", cmd.Short)
	assert.NotNil(t, cmd.RunE)
}

func TestDeploy_Flags(t *testing.T) {
	cmd := Deploy()

	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"config", "c", ""},
		{"control-planes", "", "[]"},
		{"workers", "", "[]"},
		{"ssh-user", "", ""},
		{"ssh-port", "", "0"},
		{"ssh-key", "", ""},
		{"ssh-password-file", "", ""},
		{"ssh-host-key-check", "", ""},
		{"remote-timeout", "", "0s"},
		{"dry-run", "", "false"},
		{"log-level", "", "info"},
		{"log-format", "", "console"},
		{"ha-vip", "", ""},
		{"ha-interface", "", ""},
		{"cri", "", ""},
		{"kubernetes-version", "", ""},
		{"pod-cidr", "", ""},
		{"worker-parallelism", "", "1"},
		{"kubeconfig-out", "", ""},
		{"wait-ready", "", "false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := cmd.Flags().Lookup(tt.name)
			require.NotNil(t, flag, "%s flag should exist", tt.name)
			assert.Equal(t, tt.shorthand, flag.Shorthand)
			assert.Equal(t, tt.defValue, flag.DefValue)
		})
	}
}

func TestDeploy_PasswordFlagsExclusive(t *testing.T) {
	cmd := Root()
	cmd.SetArgs([]string{"deploy", "--control-planes", "10.0.0.1", "--ssh-password", "x", "--ssh-password-file", "pw"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh-password")
}
