package cmd

import (
	"github.com/ignitionstack/kvbridge/cmd/kv"
	"github.com/spf13/cobra"
)

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Read and write the store directly",
	Long: `Commands for using the store without a guest module.

They go through the same blocking adapter the host functions use, so they
are handy for seeding keys before a run or inspecting what a guest wrote.

Unlike run and call, these commands default to the badger backend under
store.dir so that one invocation sees what the previous one wrote. Pass
--backend memory to get a store that only lives as long as the command.`,
	Example: `  # Seed and read the persistent store
  kvbridge kv put greeting hello
  kvbridge kv get greeting

  # Work with sets
  kvbridge kv put-set nodes 1 2 4
  kvbridge kv get-set nodes`,
}

func init() {
	kvCmd.AddCommand(kv.NewPutCommand())
	kvCmd.AddCommand(kv.NewGetCommand())
	kvCmd.AddCommand(kv.NewPutSetCommand())
	kvCmd.AddCommand(kv.NewGetSetCommand())
	rootCmd.AddCommand(kvCmd)
}
