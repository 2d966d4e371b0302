package guest

import (
	"context"
	"fmt"
	"os"

	globalConfig "github.com/ignitionstack/kvbridge/internal/config"
	"github.com/ignitionstack/kvbridge/internal/di"
	"github.com/ignitionstack/kvbridge/internal/ui"
	"github.com/ignitionstack/kvbridge/pkg/engine/config"
	"github.com/ignitionstack/kvbridge/pkg/engine/interfaces"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// NewCallCommand creates the command that calls one export of an Extism
// plugin.
func NewCallCommand() *cobra.Command {
	var (
		entrypoint string
		payload    string
		pairs      []string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "call [plugin.wasm]",
		Short: "Call a plugin export once with the store linked in",
		Long: `Load a WebAssembly module as an Extism plugin and call one export.

The store host functions are registered under the configured host module
(default "env"). Offsets passed to them address the plugin's shared memory,
so guests pair them with the Extism PDK allocation functions.

The plugin output is written to standard output.`,
		Example: `  # Call the default entrypoint
  kvbridge call ./plugin.wasm

  # Call with a payload and plugin config
  kvbridge call ./plugin.wasm --entrypoint greet --payload World --set greeting=Hello`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasmBytes, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read module: %w", err)
			}

			pluginConfig, err := config.ParseGuestConfig(pairs)
			if err != nil {
				return fmt.Errorf("invalid --set: %w", err)
			}

			cfg, err := globalConfig.Load()
			if err != nil {
				return err
			}

			var factory interfaces.RuntimeFactory
			app := di.NewApp(cfg, di.Module, fx.Populate(&factory))
			if err := app.Err(); err != nil {
				return err
			}

			return di.Run(app, func(ctx context.Context) error {
				runtime, err := factory.CreateRuntime(ctx, wasmBytes, pluginConfig)
				if err != nil {
					return err
				}
				defer runtime.Close(ctx)

				if verbose {
					info := runtime.Info()
					w := cmd.ErrOrStderr()
					ui.KeyValue(w, "digest", info.Digest)
					ui.KeyValue(w, "size", fmt.Sprintf("%d bytes", info.Size))
					ui.KeyValue(w, "host module", info.HostModule)
				}

				output, err := runtime.Call(ctx, entrypoint, []byte(payload))
				if len(output) > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), string(output))
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&entrypoint, "entrypoint", "e", "handler", "the entrypoint wasm function")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "the payload to send to the entrypoint")
	cmd.Flags().StringArrayVarP(&pairs, "set", "S", nil, "plugin config value (key=value, repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print module details before the call")

	return cmd
}
