package server

import (
	"context"
	"fmt"

	globalConfig "github.com/ignitionstack/kvbridge/internal/config"
	"github.com/ignitionstack/kvbridge/internal/di"
	"github.com/ignitionstack/kvbridge/internal/ui"
	"github.com/ignitionstack/kvbridge/pkg/kvs"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// NewServeCommand creates a command to serve a store to remote clients.
func NewServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a store to remote clients",
		Long: `Serve a local store over TCP so other kvbridge processes can use it with
the remote backend.

The served store uses the memory or badger backend. Point clients at it with
user.routing (or user.routing_elb) in their configuration.`,
		Example: `  # Serve an in-memory store on the default address
  kvbridge serve

  # Serve a persistent store on all interfaces
  kvbridge serve --backend badger --listen 0.0.0.0:6450`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := globalConfig.Load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			app := di.NewApp(cfg, di.ServerModule, fx.Invoke(func(*kvs.Server) {}))
			if err := app.Err(); err != nil {
				return err
			}

			if err := app.Start(context.Background()); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}

			out := cmd.OutOrStdout()
			ui.Success(out, "Serving %s store on %s", cfg.Store.Backend, cfg.Server.Listen)
			fmt.Fprintln(out, "Press Ctrl+C to stop")

			// Blocks until SIGINT or SIGTERM
			<-app.Done()

			if err := app.Stop(context.Background()); err != nil {
				return fmt.Errorf("error during shutdown: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on; overrides server.listen")

	return cmd
}
