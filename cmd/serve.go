package cmd

import (
	"fmt"

	"github.com/lukman83/watchfinder/internal/orchestrator"
	mcpserver "github.com/lukman83/watchfinder/mcp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP stdio server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	orch, err := newOrchestrator(st)
	if err != nil {
		return err
	}
	pricer, err := buildPricer()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting WatchFinder MCP server on stdio...")

	if err := mcpserver.Serve(mcpserver.Deps{
		RunCtx:       ctx,
		Orchestrator: orch,
		Runs:         orchestrator.NewRunHandle(orch),
		Pricer:       pricer,
	}); err != nil {
		return fmt.Errorf("MCP server: %w", err)
	}
	return nil
}
