package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/crossauth/internal/app"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

// defaultTombstoneAge retención de transfer tokens consumidos. Debe superar
// el TTL del token para seguir distinguiendo reuso de token inválido.
const defaultTombstoneAge = 24 * time.Hour

func newMaintenanceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "maintenance", Short: "Tareas de mantenimiento del Directory"}

	var tombstoneAge time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Borra códigos OTP vencidos, transfer tokens vencidos y tombstones viejos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openAdmin(cmd, opts)
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.Postgres.PurgeExpired(cmd.Context(), tombstoneAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged=%d\n", n)
			return nil
		},
	}
	purge.Flags().DurationVar(&tombstoneAge, "tombstone-age", defaultTombstoneAge, "antigüedad mínima de los tombstones a borrar")
	cmd.AddCommand(purge)
	return cmd
}

// purgeLoop corre la limpieza periódica mientras sirve el proceso.
func purgeLoop(ctx context.Context, c *app.Container, every time.Duration) {
	log := logger.L().With(logger.Component("maintenance"))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := c.Postgres.PurgeExpired(ctx, defaultTombstoneAge)
			if err != nil {
				log.Warn("purge_failed", logger.Err(err))
				continue
			}
			log.Debug("purge_done", logger.Int("rows", int(n)))
		}
	}
}
