package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/sigtrend/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API for triggering and monitoring runs",
	Long: `Start an HTTP server that triggers pipeline runs in the background and
reports their progress.

Endpoints:
  POST /projects/{id}/run                  start a run (202)
  POST /projects/{id}/resume               resume a failed project and run it
  POST /projects/{id}/reset?clear=true     reset to pending
  POST /projects/{id}/verifications/retry  retry failed verifications
  GET  /projects/{id}/status               processing state and progress
  POST /summaries                          {"texts": [...]} -> title and summary

On SIGINT/SIGTERM in-flight runs stop after their current batch and can be
continued by triggering them again.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

		release, err := lockDataDir("sigtrend-serve")
		if err != nil {
			fail("%v", err)
		}
		defer release()

		orch, err := newOrchestrator(components{embedder: true, ai: true})
		if err != nil {
			fail("%v", err)
		}

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              addr,
			Handler:           server.New(ctx, orch, logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
		fmt.Printf("%s listening on %s\n", cyan("sigtrend"), addr)

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				logger.Error("server failed", "error", err)
			}
		}
		stop()

		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown incomplete", "error", err)
		}
		orch.Wait()
		fmt.Println("Stopped.")
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
