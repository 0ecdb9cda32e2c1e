package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/competition-discovery/internal/api"
	"github.com/JakeFAU/competition-discovery/internal/query"
)

const shutdownTimeout = 15 * time.Second

var serveBindings = map[string]string{
	"server.port":    "port",
	"server.api_key": "api-key",
}

// newServeCmd creates the 'serve' subcommand, which exposes the cache over HTTP.
func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the read-only query API, health checks and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.start(cmd, serveBindings); err != nil {
				return err
			}
			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", c.cfg.Server.Port))
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return c.serve(cmd.Context(), lis)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP listen port")
	cmd.Flags().String("api-key", "", "require this key on /v1 routes")
	return cmd
}

// serve runs the API on lis until ctx is cancelled, then drains requests.
func (c *cli) serve(ctx context.Context, lis net.Listener) error {
	svc, err := query.New(c.app.Cache)
	if err != nil {
		return err
	}
	handler := api.NewServer(svc, c.app.Tracker, api.Options{
		APIKey:   c.cfg.Server.APIKey,
		Metrics:  c.app.Metrics,
		Gatherer: c.app.Registry,
		Ready:    c.app.Ready,
		Logger:   c.logger,
	}).Handler()
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logger := c.logger.Named("serve")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
