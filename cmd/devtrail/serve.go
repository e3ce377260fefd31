// File path: cmd/devtrail/serve.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devtrail/devtrail/internal/api"
	"github.com/devtrail/devtrail/internal/common"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := common.Logger()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			orch, err := openOrchestrator(ctx, st)
			if err != nil {
				return err
			}
			defer orch.Close()

			srv, err := api.NewServer(orch)
			if err != nil {
				return exitf(exitIO, "init server: %v", err)
			}

			listen := orch.Config().ListenAddr
			if addr != "" {
				listen = addr
			}
			httpServer := &http.Server{
				Addr:              listen,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("devtrail: listening", "addr", listen)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("devtrail: shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return exitf(exitIO, "shutdown: %v", err)
				}
				return nil
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return exitf(exitIO, "serve: %v", err)
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides CORE_LISTEN_ADDR)")
	return cmd
}
