package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kestrelai/deskagent/internal/memory"
)

var memoryHwd = &MemoryRunner{}

type MemoryRunner struct{}

func (r *MemoryRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Query and populate the Long-Term Memory Engine from the command line",
		Commands: []*cli.Command{
			{
				Name:  "search",
				Usage: "Search memories by semantic similarity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "query", Usage: "Search query text", Required: true},
					&cli.StringFlag{Name: "userId", Usage: "Restrict to this user_id"},
					&cli.StringFlag{Name: "agentId", Usage: "Restrict to this agent_id"},
					&cli.IntFlag{Name: "limit", Usage: "Max results", Value: 10},
					&cli.BoolFlag{Name: "rerank", Usage: "Apply the configured reranker"},
				},
				Action: r.search,
			},
			{
				Name:  "add",
				Usage: "Add a memory (fact-extraction skipped unless --infer is set)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "text", Usage: "Memory text to store", Required: true},
					&cli.StringFlag{Name: "userId", Usage: "Owning user_id", Required: true},
					&cli.StringFlag{Name: "agentId", Usage: "Owning agent_id"},
					&cli.BoolFlag{Name: "infer", Usage: "Run fact extraction and reconciliation instead of storing text verbatim"},
				},
				Action: r.add,
			},
			{
				Name:  "delete-all",
				Usage: "Bulk-delete every memory in scope (forgets a user/agent/run entirely)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "userId", Usage: "Restrict to this user_id"},
					&cli.StringFlag{Name: "agentId", Usage: "Restrict to this agent_id"},
					&cli.StringFlag{Name: "runId", Usage: "Restrict to this run_id"},
				},
				Action: r.deleteAll,
			},
		},
	}
}

func (r *MemoryRunner) search(ctx context.Context, cmd *cli.Command) error {
	a, err := bootMinimalApp(ctx)
	if err != nil {
		return err
	}
	defer a.Stop(context.Background())

	results, err := a.Memory().Search(ctx, cmd.String("query"), memory.SearchOptions{
		Scope: memory.Scope{
			UserID:  cmd.String("userId"),
			AgentID: cmd.String("agentId"),
		},
		Limit:  int(cmd.Int("limit")),
		Rerank: cmd.Bool("rerank"),
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range results {
		fmt.Printf("%.4f\t%s\t%s\n", m.Score, m.Record.ID, m.Record.Content)
	}
	return nil
}

func (r *MemoryRunner) add(ctx context.Context, cmd *cli.Command) error {
	a, err := bootMinimalApp(ctx)
	if err != nil {
		return err
	}
	defer a.Stop(context.Background())

	results, err := a.Memory().Add(ctx, cmd.String("text"), nil, memory.AddOptions{
		Scope: memory.Scope{
			UserID:  cmd.String("userId"),
			AgentID: cmd.String("agentId"),
		},
		Infer: cmd.Bool("infer"),
	})
	if err != nil {
		return fmt.Errorf("add: %w", err)
	}
	for _, r := range results {
		fmt.Printf("%s\t%s\t%s\n", r.Event, r.ID, r.Memory)
	}
	return nil
}

func (r *MemoryRunner) deleteAll(ctx context.Context, cmd *cli.Command) error {
	a, err := bootMinimalApp(ctx)
	if err != nil {
		return err
	}
	defer a.Stop(context.Background())

	scope := memory.Scope{
		UserID:  cmd.String("userId"),
		AgentID: cmd.String("agentId"),
		RunID:   cmd.String("runId"),
	}
	if err := a.Memory().DeleteAll(ctx, scope, nil); err != nil {
		return fmt.Errorf("delete-all: %w", err)
	}
	fmt.Println("deleted all memories in scope")
	return nil
}
