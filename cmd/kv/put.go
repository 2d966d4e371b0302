package kv

import (
	"context"

	"github.com/ignitionstack/kvbridge/internal/ui"
	"github.com/ignitionstack/kvbridge/pkg/store"
	"github.com/spf13/cobra"
)

// NewPutCommand creates `kv put`.
func NewPutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Store a scalar value",
		Long: `Store a value under a key as a last-writer-wins scalar.

The write is stamped with the current time, so a later put always replaces
an earlier one for the same key.`,
		Example: `  kvbridge kv put greeting hello`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, adapter *store.Adapter) error {
				err := ui.WithSpinner(cmd.ErrOrStderr(), "Storing "+args[0], func() error {
					return adapter.Put(ctx, []byte(args[0]), []byte(args[1]))
				})
				if err != nil {
					return err
				}
				ui.Success(cmd.OutOrStdout(), "Stored %q (%d bytes)", args[0], len(args[1]))
				return nil
			})
		},
	}
}

// NewPutSetCommand creates `kv put-set`.
func NewPutSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put-set [key] [member...]",
		Short: "Store a set of members",
		Long: `Store a set under a key. The stored set is replaced by the members given;
duplicates collapse into one.`,
		Example: `  kvbridge kv put-set nodes 1 2 4`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, adapter *store.Adapter) error {
				err := ui.WithSpinner(cmd.ErrOrStderr(), "Storing "+args[0], func() error {
					return adapter.PutSet(ctx, []byte(args[0]), args[1:])
				})
				if err != nil {
					return err
				}
				ui.Success(cmd.OutOrStdout(), "Stored set %q (%d members)", args[0], len(args[1:]))
				return nil
			})
		},
	}
}
