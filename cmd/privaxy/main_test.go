package main

import (
	"context"
	"testing"

	"github.com/privaxy-core/privaxy/internal/config"
)

func TestNewCmd_RegistersRunSubcommand(t *testing.T) {
	t.Parallel()

	conf, err := config.New()
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	c, err := newCmd(conf)
	if err != nil {
		t.Fatalf("newCmd: %v", err)
	}

	runCmd, _, err := c.Find([]string{"run"})
	if err != nil {
		t.Fatalf("Find(run): %v", err)
	}
	if runCmd.Use != "run" {
		t.Errorf("Use = %q, want %q", runCmd.Use, "run")
	}
}

func TestWireApp_FailsWithoutCAFiles(t *testing.T) {
	t.Parallel()

	conf, err := config.New()
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}

	_, cleanup, err := wireApp(context.Background(), conf)
	if cleanup != nil {
		cleanup()
	}
	if err == nil {
		t.Fatal("expected an error when no CA cert/key paths are configured")
	}
}
