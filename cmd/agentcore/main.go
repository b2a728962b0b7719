package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kestrelai/deskagent/internal/pkg/logs"
)

func main() {
	cmd := &cli.Command{
		Name:  "agentcore",
		Usage: "Agent Scheduler Core and Long-Term Memory Engine runtime",
		Commands: []*cli.Command{
			runHwd.cmd(),
			schedulerHwd.cmd(),
			memoryHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}
