package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lukman83/watchfinder/internal/api"
	"github.com/lukman83/watchfinder/internal/orchestrator"
	mcpserver "github.com/lukman83/watchfinder/mcp"
	"github.com/spf13/cobra"
)

var serveHTTPCmd = &cobra.Command{
	Use:   "serve-http",
	Short: "Start the HTTP API and MCP endpoint",
	Long:  "Serve the JSON API under /api, MCP over streamable HTTP at /mcp and downloaded images.",
	RunE:  runServeHTTP,
}

func init() {
	serveHTTPCmd.Flags().String("port", "", "HTTP port (default from $PORT or 8080)")
	rootCmd.AddCommand(serveHTTPCmd)
}

func runServeHTTP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := cfg.HTTPPort
	if p, _ := cmd.Flags().GetString("port"); p != "" {
		port = p
	}

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
	runs := orchestrator.NewRunHandle(orch)

	engine := api.NewServer(api.NewHandler(ctx, orch, runs, logger), api.ServerOptions{
		APIKey: cfg.APIKey,
		MCP: mcpserver.HTTPHandler(mcpserver.Deps{
			RunCtx:       ctx,
			Orchestrator: orch,
			Runs:         runs,
			Pricer:       pricer,
		}),
		ImageDir:    cfg.ImageDir,
		ImagePrefix: cfg.ImageURLPrefix,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("http server listening", "addr", srv.Addr, "auth", cfg.APIKey != "")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
