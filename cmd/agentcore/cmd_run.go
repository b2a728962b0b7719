package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v3"

	appsvc "github.com/kestrelai/deskagent/internal/app"
	"github.com/kestrelai/deskagent/internal/config"
	"github.com/kestrelai/deskagent/internal/gateway"
	"github.com/kestrelai/deskagent/internal/pkg/logs"
	"github.com/kestrelai/deskagent/internal/scheduler"
)

var runHwd = &RunRunner{}

type RunRunner struct{}

func (r *RunRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the scheduler, memory engine, and gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the runtime config file",
				Value:   "config.yaml",
			},
		},
		Action: r.run,
	}
}

func (r *RunRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfgPath := getConfigPath(cmd.String("config"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config error: %w", err)
	}

	if err = r.initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}

	logs.CtxInfo(ctx, "booting agentcore runtime, using config file: %s...", cfgPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := appsvc.New(cfg, appsvc.Deps{AgentTurn: &stubAgentTurn{}})
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start app: %w", err)
	}

	gw := gateway.NewGateway(cfg.Gateway, a)
	if err = gw.Start(ctx); err != nil {
		cancel()
		_ = gw.Stop(context.Background())
		a.Stop(context.Background())
		return fmt.Errorf("start gateway: %w", err)
	}

	logs.CtxInfo(ctx, "agentcore is up. Press Ctrl+C to stop.")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logs.CtxInfo(ctx, "received shutdown signal (%s), stopping runtime...", sig.String())
	case <-ctx.Done():
		logs.CtxInfo(ctx, "context canceled, stopping runtime...")
	}

	if err = gw.Stop(context.Background()); err != nil {
		logs.CtxError(ctx, "stop gateway error: %v", err)
	}
	a.Stop(context.Background())

	logs.CtxInfo(ctx, "all stopped, good bye!")
	return nil
}

func (r *RunRunner) initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	})
}

func getConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}

	defaultPaths := []string{
		"config.yaml",
		filepath.Join(os.Getenv("HOME"), ".agentcore", "config.yaml"),
	}

	for _, path := range defaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return defaultPaths[0]
}

// stubAgentTurn is a minimal RunAgentTurn collaborator for standalone
// operation. The real per-turn reasoning loop is an external collaborator
// this module never implements; this stand-in only lets `agentcore run`
// boot and exercise the scheduler end to end without a wired agent runtime.
type stubAgentTurn struct{}

func (stubAgentTurn) RunAgentTurn(_ context.Context, req scheduler.AgentTurnRequest) (*scheduler.AgentTurnResult, error) {
	return &scheduler.AgentTurnResult{
		Content: fmt.Sprintf("no agent runtime configured; received message %q for conversation %s", req.Message, req.ConversationID),
	}, nil
}
