// Command crossauth es el broker de autenticación multi-tenant y su CLI de administración.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/crossauth/internal/app"
	"github.com/dropDatabas3/crossauth/internal/config"
	"github.com/dropDatabas3/crossauth/internal/observability/logger"
)

var version = "dev"

var errNeedsPostgres = errors.New("este comando requiere storage.driver=postgres")

type rootOptions struct {
	configPath string
	envFile    string
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "crossauth",
		Short:         "Broker de autenticación cross-origin multi-tenant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("env file %s: %w", opts.envFile, err)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "crossauth", Version: version})
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Sync() },
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CROSSAUTH_CONFIG"), "archivo YAML de configuración (env CROSSAUTH_CONFIG)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "archivo .env a cargar si existe")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTenantCmd(opts),
		newDomainCmd(opts),
		newInviteCmd(opts),
		newMaintenanceCmd(opts),
	)
	return root
}

// openAdmin arma el contenedor para los comandos de administración. Con storage
// en memoria los cambios morirían con el proceso.
func openAdmin(cmd *cobra.Command, opts *rootOptions) (*app.Container, error) {
	if opts.cfg.Storage.Driver != "postgres" {
		return nil, errNeedsPostgres
	}
	return app.New(cmd.Context(), opts.cfg)
}
