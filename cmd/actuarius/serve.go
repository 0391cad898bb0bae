package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/DigitumDei/Actuarius/internal/app"
	"github.com/DigitumDei/Actuarius/internal/httpapi"
	"github.com/DigitumDei/Actuarius/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(g *globals, version string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := clog.FromContext(ctx)
			if listen != "" {
				g.cfg.ListenAddr = listen
			}

			shutdownTracing, err := telemetry.Init(ctx, g.cfg.OTLPEndpoint, version)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() {
				if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
					log.Warnf("tracer shutdown: %v", err)
				}
			}()

			a, err := app.New(ctx, g.cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()
			a.Probe(ctx)

			if g.configPath != "" {
				go func() {
					if err := a.WatchConfig(ctx, g.configPath); err != nil {
						log.Warnf("config watch stopped: %v", err)
					}
				}()
			}

			srv := &http.Server{
				Addr:              g.cfg.ListenAddr,
				Handler:           httpapi.New(a.Service, a.Registry).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.With("addr", srv.Addr).Info("http server listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
			case <-ctx.Done():
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Warnf("http shutdown: %v", err)
				}
			}

			// Queued requests were detached from request contexts. Give running
			// ones the grace period and fail the rest.
			a.Shutdown(context.WithoutCancel(ctx), g.cfg.ShutdownGrace)
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides listen_addr")
	return cmd
}
