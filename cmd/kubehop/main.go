// Package main is the entry point for the kubehop CLI.
//
// kubehop deploys kubeadm Kubernetes clusters onto machines reachable over
// SSH and upgrades them one minor version at a time. Nothing runs on the
// nodes besides a single uploaded bash bundle.
//
// Commands: deploy, upgrade, bundle, version.
//
// For detailed usage information, run:
//
//	kubehop --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/kubehop/cmd/kubehop/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	commands.SetVersionInfo(version, commit, date)
	err := commands.Root().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
