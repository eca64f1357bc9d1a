package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/crossauth/internal/app"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var purgeEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := opts.cfg
			log := logger.L().With(logger.Component("serve"))

			c, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					log.Warn("close_failed", logger.Err(err))
				}
			}()

			if c.Postgres != nil && purgeEvery > 0 {
				go purgeLoop(ctx, c, purgeEvery)
			}

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           c.Handler,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       cfg.Server.ReadTimeout,
				WriteTimeout:      cfg.Server.WriteTimeout,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", logger.String("addr", cfg.Server.Addr), logger.String("public_url", cfg.Server.PublicURL))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			log.Info("shutting_down", logger.String("timeout", cfg.Server.ShutdownTimeout.String()))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().DurationVar(&purgeEvery, "purge-every", time.Hour, "intervalo de limpieza de códigos y transfer tokens vencidos (0 deshabilita; solo postgres)")
	return cmd
}
