package joincred

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/kubehop/internal/cleanup"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/remote"
	"github.com/imamik/kubehop/internal/remote/remotetest"
)

const joinOutput = "kubeadm join 10.0.0.1:6443 --token " + testToken + " --discovery-token-ca-cert-hash " + testHash + "\n"

func newExtractor(n *remotetest.Node) *Extractor {
	return &Extractor{
		Jobs: &remote.Engine{
			PollInterval: time.Millisecond,
			Timeout:      time.Second,
			Log:          logr.Discard(),
			Cleanup:      cleanup.NewStack(logr.Discard()),
		},
		Runner:             n,
		PrintJoinCommand:   "bash /tmp/kubehop.sh print-join",
		UploadCertsCommand: "bash /tmp/kubehop.sh upload-certs",
		Delay:              time.Millisecond,
		Log:                logr.Discard(),
	}
}

func TestExtractor_RetriesPrintJoin(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	n := remotetest.NewNode("10.0.0.1", true, func(_, cmd string) remotetest.Outcome {
		if strings.HasSuffix(cmd, "print-join") && calls.Add(1) < 3 {
			return remotetest.Outcome{Output: "connection refused\n", ExitCode: 1}
		}
		return remotetest.Outcome{Output: joinOutput}
	})

	cred, err := newExtractor(n).Extract(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "10.0.0.1:6443", cred.APIAddress)
	assert.Empty(t, cred.CertificateKey)
}

func TestExtractor_GivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	n := remotetest.NewNode("10.0.0.1", true, func(_, _ string) remotetest.Outcome {
		calls.Add(1)
		return remotetest.Outcome{Output: "apiserver not ready\n", ExitCode: 1}
	})

	_, err := newExtractor(n).Extract(context.Background(), false)
	require.Error(t, err)
	assert.True(t, remote.IsCommandError(err))
	assert.Equal(t, int32(DefaultAttempts), calls.Load())
}

func TestExtractor_MalformedOutputIsNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	n := remotetest.NewNode("10.0.0.1", true, func(_, _ string) remotetest.Outcome {
		calls.Add(1)
		return remotetest.Outcome{Output: "kubeadm join 10.0.0.1:6443 --token BAD --discovery-token-ca-cert-hash " + testHash + "\n"}
	})

	_, err := newExtractor(n).Extract(context.Background(), false)
	require.Error(t, err)
	var ve *node.ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtractor_HAUploadsCertsOnce(t *testing.T) {
	t.Parallel()
	cluster := remotetest.NewCluster(func(_, cmd string) remotetest.Outcome {
		if strings.HasSuffix(cmd, "upload-certs") {
			return remotetest.Outcome{Output: "[upload-certs] Using certificate key:\n" + testKey + "\n"}
		}
		return remotetest.Outcome{Output: joinOutput}
	})
	n := cluster.Node("10.0.0.1", true)

	cred, err := newExtractor(n).Extract(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, testKey, cred.CertificateKey)
	assert.Equal(t, []string{
		"bash /tmp/kubehop.sh print-join",
		"bash /tmp/kubehop.sh upload-certs",
	}, cluster.JobsOn("10.0.0.1"))
}

func TestExtractor_CertificateKeyNotRetried(t *testing.T) {
	t.Parallel()
	cluster := remotetest.NewCluster(func(_, cmd string) remotetest.Outcome {
		if strings.HasSuffix(cmd, "upload-certs") {
			return remotetest.Outcome{Output: "not-a-key\n"}
		}
		return remotetest.Outcome{Output: joinOutput}
	})
	n := cluster.Node("10.0.0.1", true)

	cred, err := newExtractor(n).Extract(context.Background(), true)
	require.Error(t, err)
	assert.Equal(t, Credential{}, cred)
	assert.Len(t, cluster.JobsOn("10.0.0.1"), 2)
}
