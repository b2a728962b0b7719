package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	appsvc "github.com/kestrelai/deskagent/internal/app"
	"github.com/kestrelai/deskagent/internal/config"
	"github.com/kestrelai/deskagent/internal/consts"
	"github.com/kestrelai/deskagent/internal/scheduler"
)

var schedulerHwd = &SchedulerRunner{}

type SchedulerRunner struct{}

func (r *SchedulerRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Inspect and drive the Agent Scheduler Core from the command line",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List persisted jobs",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Include disabled jobs"},
				},
				Action: r.list,
			},
			{
				Name:  "run-now",
				Usage: "Mark a job due now so the running scheduler executes it on its next tick",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Job ID", Required: true},
				},
				Action: r.runNow,
			},
			{
				Name:   "status",
				Usage:  "Print scheduler manager status (inflight runs, next tick, heartbeat state)",
				Action: r.status,
			},
		},
	}
}

func (r *SchedulerRunner) openStore() (*scheduler.Store, error) {
	return scheduler.OpenStore(consts.DefaultSchedulerDBPath())
}

func (r *SchedulerRunner) list(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore()
	if err != nil {
		return fmt.Errorf("open scheduler store: %w", err)
	}
	defer store.Close()

	jobs, err := store.List(ctx, cmd.Bool("all"))
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}
	for _, j := range jobs {
		fmt.Printf("%s\t%s\tenabled=%v\tnext_run_at=%s\n", j.ID, j.Name, j.Enabled, formatTime(j.NextRunAt))
	}
	return nil
}

// runNow forces a job's next_run_at to now, so the background process's own
// tick loop claims and executes it on its next iteration. It deliberately
// does not wait for or report the resulting Run, since this CLI invocation
// never starts its own Manager tick loop against the live store.
func (r *SchedulerRunner) runNow(ctx context.Context, cmd *cli.Command) error {
	a, err := bootMinimalApp(ctx)
	if err != nil {
		return err
	}
	defer a.Stop(context.Background())

	result, err := a.Scheduler().RunJobNow(ctx, cmd.String("id"))
	if err != nil {
		return fmt.Errorf("run job now: %w", err)
	}
	if !result.Accepted {
		fmt.Printf("not accepted: %s\n", result.Reason)
		return nil
	}
	fmt.Println("accepted; will run on the next scheduler tick")
	return nil
}

func (r *SchedulerRunner) status(ctx context.Context, cmd *cli.Command) error {
	a, err := bootMinimalApp(ctx)
	if err != nil {
		return err
	}
	defer a.Stop(context.Background())

	status, err := a.Scheduler().Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	fmt.Printf("enabled=%v running_jobs=%d next_wake_at=%s heartbeat_enabled=%v backoff_suggested=%v\n",
		status.Enabled, status.RunningJobs, formatTime(status.NextWakeAt), status.HeartbeatEnabled, status.BackoffSuggested)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// bootMinimalApp loads the default config and wires an App without starting
// the gateway, for CLI subcommands that need the live scheduler/manager
// rather than raw store access. The scheduler tick loop is left unstarted so
// a one-off CLI invocation doesn't race the background process's own claims.
func bootMinimalApp(ctx context.Context) (*appsvc.App, error) {
	cfg, err := config.Load(consts.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := appsvc.New(cfg, appsvc.Deps{AgentTurn: &stubAgentTurn{}})
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return a, nil
}
