package cmd

import (
	"os"

	"github.com/ignitionstack/kvbridge/cmd/guest"
	globalConfig "github.com/ignitionstack/kvbridge/internal/config"
	"github.com/ignitionstack/kvbridge/internal/ui"
	"github.com/ignitionstack/kvbridge/pkg/engine/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kvbridge",
	Short: "Run WebAssembly guests against an asynchronous key-value store",
	Long: `kvbridge hosts WebAssembly guests and gives them blocking access to a
key-value store through two host functions:

* put(key_len, key_off, val_len, val_off) -> ok
* get(key_len, key_off, buf_cap, buf_off) -> val_size

The store itself is asynchronous and batched. It can be in-process (memory),
persistent (badger) or a remote routing tier reached over TCP.`,
	Example: `  # Run a WASI command that uses the store
  kvbridge run ./guest.wasm

  # Call an Extism plugin export
  kvbridge call ./plugin.wasm --entrypoint handler --payload hello

  # Use the store directly
  kvbridge kv put greeting hello
  kvbridge kv get greeting

  # Serve a persistent store for remote clients
  kvbridge serve --backend badger --listen :6450`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if plain, _ := cmd.Flags().GetBool("plain"); plain {
			ui.Plain = true
		}
	},
}

// Execute runs the root command. The process exits non-zero on failure or
// with the guest's status when a guest exits non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.Error(os.Stderr, "%v", err)
		os.Exit(1)
	}
	if guest.ExitCode != 0 {
		os.Exit(guest.ExitCode)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalConfig.ConfigPath, "config", "c", config.DefaultConfigPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&globalConfig.LogLevel, "log-level", "L", "", "Log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVarP(&globalConfig.Backend, "backend", "b", "", "Store backend (memory, badger, remote); overrides the config")
	rootCmd.PersistentFlags().Bool("plain", false, "Disable styled output")

	rootCmd.SilenceErrors = true
}
