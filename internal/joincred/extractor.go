package joincred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/remote"
	"github.com/imamik/kubehop/internal/util/retry"
)

// Defaults for the join command retry.
const (
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
)

// Submitter runs one job to completion. *remote.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, r remote.Runner, command, description string) (remote.Result, error)
}

// Extractor obtains a Credential from the first control plane.
type Extractor struct {
	Jobs   Submitter
	Runner remote.Runner
	Parser Parser

	// PrintJoinCommand and UploadCertsCommand are the full command lines
	// of the corresponding bundle subcommands.
	PrintJoinCommand   string
	UploadCertsCommand string

	Attempts int
	Delay    time.Duration
	Log      logr.Logger
}

// Extract runs the print-join subcommand, retrying with linear backoff, and
// for HA clusters uploads the control plane certificates once to obtain
// the certificate key.
func (e *Extractor) Extract(ctx context.Context, ha bool) (Credential, error) {
	parser := e.Parser
	if parser == nil {
		parser = DefaultParser{}
	}
	attempts := e.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := e.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}

	var cred Credential
	err := retry.WithLinearBackoff(ctx, func() error {
		res, err := e.Jobs.Submit(ctx, e.Runner, e.PrintJoinCommand, "print-join")
		if err != nil {
			if remote.IsTimeout(err) || ctx.Err() != nil {
				return retry.Fatal(err)
			}
			return err
		}
		c, err := parser.ParseJoinCommand(res.Log)
		if err != nil {
			var ve *node.ValidationError
			if errors.As(err, &ve) {
				return retry.Fatal(err)
			}
			return err
		}
		cred = c
		return nil
	},
		retry.WithAttempts(attempts),
		retry.WithInitialDelay(delay),
		retry.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			e.Log.Info("join command not available yet, retrying",
				"host", e.Runner.Host(), "attempt", attempt, "wait", wait.String(), "error", err.Error())
		}),
	)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to extract join command from %s: %w", e.Runner.Host(), err)
	}

	if !ha {
		return cred, nil
	}

	res, err := e.Jobs.Submit(ctx, e.Runner, e.UploadCertsCommand, "upload-certs")
	if err != nil {
		return Credential{}, fmt.Errorf("failed to upload certificates on %s: %w", e.Runner.Host(), err)
	}
	key, err := parser.ParseCertificateKey(res.Log)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to extract certificate key from %s: %w", e.Runner.Host(), err)
	}
	cred.CertificateKey = key
	return cred, nil
}
