package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/autotagger/internal/batch"
	"github.com/lehigh-university-libraries/autotagger/internal/handlers"
	"github.com/lehigh-university-libraries/autotagger/internal/jobs"
)

// drainTimeout bounds how long shutdown waits for in-flight recognitions.
const drainTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var port string
	var hardCancel bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recognition server",
		Long: `Starts the HTTP server that receives Elvis webhook events, runs batch
recognition jobs and tags uploaded files.

Configuration is read from IR_* environment variables (or a .env file).`,
		Example: `  # Start server on the configured port (IR_PORT, default 9090)
  autotagger serve

  # Start server on custom port
  autotagger serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("port") {
				port = a.cfg.Port
			}

			// Background work must survive the request that started it, and
			// is only cancelled once draining gave up.
			baseCtx, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()

			registry := jobs.NewRegistry()
			controller := batch.New(a.elvis, a.recognizer, batch.Options{
				PageSize:   a.cfg.BatchSize,
				HardCancel: hardCancel,
			})
			handler := handlers.New(handlers.Options{
				Recognizer:   a.recognizer,
				Jobs:         registry,
				Batch:        controller,
				WebhookToken: a.cfg.Elvis.Token,
				TempDir:      a.cfg.TempDir,
				BaseContext:  baseCtx,
			})

			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Image recognition server available", "addr", addr, "elvis", a.cfg.Elvis.URL)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}

				for _, job := range registry.List() {
					if !job.State().Terminal() {
						job.Cancel()
					}
				}
				drain(cancelBase, controller.Wait, handler.Wait)
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "9090", "Port to listen on (defaults to IR_PORT)")
	cmd.Flags().BoolVar(&hardCancel, "hard-cancel", false, "Abort in-flight recognitions when a batch job is cancelled")

	return cmd
}

// drain waits for background work to return. When it takes longer than
// drainTimeout the base context is cancelled and draining continues.
func drain(cancel context.CancelFunc, waits ...func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, wait := range waits {
			wait()
		}
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		slog.Warn("Background work still running, cancelling", "timeout", drainTimeout)
		cancel()
		<-done
	}
}
