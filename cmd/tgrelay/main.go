package main

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/tgrelay/tgrelay/internal/cmd"
	"github.com/tgrelay/tgrelay/internal/server/handlers"
)

// Set via ldflags:
// go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-03-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		// Commands log their own specific failures.
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "Command execution failed", err)
	}
}
