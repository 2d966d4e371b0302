package guest

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	globalConfig "github.com/ignitionstack/kvbridge/internal/config"
	"github.com/ignitionstack/kvbridge/internal/di"
	"github.com/ignitionstack/kvbridge/pkg/engine/config"
	"github.com/ignitionstack/kvbridge/pkg/engine/wasm"
	"github.com/ignitionstack/kvbridge/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// ExitCode is set when a guest exits with a non-zero status, so main can
// pass it on.
var ExitCode int

// NewRunCommand creates the command that runs a WASI guest.
func NewRunCommand() *cobra.Command {
	var env []string

	cmd := &cobra.Command{
		Use:   "run [module.wasm] [-- guest args...]",
		Short: "Run a WASI command module with the store linked in",
		Long: `Run a WebAssembly module as a WASI command.

The module may import "put" and "get" from the store host module (default
"env"). Both block the guest until the store answers. Standard input and
output are passed through to the guest.

A non-zero guest exit status becomes the exit status of kvbridge.`,
		Example: `  # Run a guest against an in-memory store
  kvbridge run ./guest.wasm

  # Pass arguments and environment to the guest
  kvbridge run ./guest.wasm --env MODE=fast -- --verbose input.txt

  # Run against a remote store
  kvbridge run ./guest.wasm --backend remote`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasmBytes, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read module: %w", err)
			}

			guestEnv, err := parseEnv(env)
			if err != nil {
				return err
			}

			cfg, err := globalConfig.Load()
			if err != nil {
				return err
			}

			var runner *wasm.Runner
			app := di.NewApp(cfg, di.Module, fx.Populate(&runner))
			if err := app.Err(); err != nil {
				return err
			}

			return di.Run(app, func(ctx context.Context) error {
				err := runner.Run(ctx, wasmBytes, wasm.RunOptions{
					Args:   args[1:],
					Env:    guestEnv,
					Stdin:  cmd.InOrStdin(),
					Stdout: cmd.OutOrStdout(),
					Stderr: cmd.ErrOrStderr(),
				})
				if errors.Is(err, errors.DomainRuntime, errors.CodeGuestExit) {
					ExitCode = exitCode(err)
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().StringArrayVarP(&env, "env", "E", nil, "Environment variable for the guest (KEY=VALUE, repeatable)")

	return cmd
}

func parseEnv(pairs []string) (map[string]string, error) {
	out, err := config.ParseGuestConfig(pairs)
	if err != nil {
		return nil, fmt.Errorf("invalid --env: %w", err)
	}
	return out, nil
}

// exitCode reads the guest status recorded on a guest_exit error.
func exitCode(err error) int {
	var de *errors.DomainError
	if !stderrors.As(err, &de) {
		return 1
	}
	switch code := de.Details["exit_code"].(type) {
	case uint32:
		return int(code)
	case int32:
		return int(code)
	}
	return 1
}
