package kv

import (
	"context"
	"fmt"

	"github.com/ignitionstack/kvbridge/internal/ui"
	"github.com/ignitionstack/kvbridge/pkg/store"
	"github.com/spf13/cobra"
)

// NewGetCommand creates `kv get`.
func NewGetCommand() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:     "get [key]",
		Short:   "Read a scalar value",
		Example: `  kvbridge kv get greeting`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, adapter *store.Adapter) error {
				var (
					value []byte
					found bool
				)
				err := ui.WithSpinner(cmd.ErrOrStderr(), "Reading "+args[0], func() (err error) {
					value, found, err = adapter.Get(ctx, []byte(args[0]))
					return err
				})
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("key %q not found", args[0])
				}

				w := cmd.OutOrStdout()
				if raw {
					_, err := w.Write(value)
					return err
				}
				ui.KeyValue(w, args[0], string(value))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&raw, "raw", "r", false, "write the value bytes only")

	return cmd
}

// NewGetSetCommand creates `kv get-set`.
func NewGetSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "get-set [key]",
		Short:   "Read a set",
		Example: `  kvbridge kv get-set nodes`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdapter(func(ctx context.Context, adapter *store.Adapter) error {
				var (
					members []string
					found   bool
				)
				err := ui.WithSpinner(cmd.ErrOrStderr(), "Reading "+args[0], func() (err error) {
					members, found, err = adapter.GetSet(ctx, []byte(args[0]))
					return err
				})
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("set %q not found", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), ui.Box(args[0], ui.Members(members)))
				return nil
			})
		},
	}
}
