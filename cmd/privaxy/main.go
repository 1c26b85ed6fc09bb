// Package main is the entry point for the privaxy binary: a single
// "run" command that starts the CONNECT/MITM proxy and its admin API.
//
// Dependencies are assembled via Google Wire; see wire.go and
// wire_gen.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/privaxy-core/privaxy/internal/cmd"
	"github.com/privaxy-core/privaxy/internal/config"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and executes the root Cobra command.
func run(ctx context.Context) error {
	rootCmd, cleanup, err := wireCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return rootCmd.ExecuteContext(ctx)
}

// newCmd is a Wire provider that constructs the root Cobra command and
// registers the run subcommand.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:           "privaxy",
		Short:         "privaxy: a local HTTPS-intercepting ad-blocking proxy",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd, err := cmd.NewRunCommand(conf, func(ctx context.Context) (*cmd.App, func(), error) {
		return wireApp(ctx, conf)
	})
	if err != nil {
		return nil, err
	}

	c.AddCommand(runCmd)
	return c, nil
}
