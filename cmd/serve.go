package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/api"
)

const (
	shutdownTimeout = 30 * time.Second
	gcInterval      = 5 * time.Minute
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research API server",
	Long:  "Serves the research REST API and per-run event streams. Submitted research runs in the background of this process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		idle := time.Duration(cfg.Server.StreamIdleMinutes) * time.Minute
		if idle > 0 {
			go env.Events.Start(ctx, gcInterval, idle)
		}
		if env.Bridge != nil {
			go func() {
				if err := env.Bridge.Run(ctx); err != nil {
					zap.L().Error("redis event relay stopped", zap.Error(err))
				}
			}()
		}

		// Runs outlive individual requests but not the process.
		srv := api.NewServer(cfg, env.Store, env.Pipeline, env.Embedder, env.Events,
			api.WithPublisher(env.Publisher),
			api.WithRunContext(ctx),
		)

		err = startServer(ctx, srv.Handler(), resolvePort(servePort, cfg.Server.Port))

		zap.L().Info("waiting for in-flight research runs")
		srv.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}
