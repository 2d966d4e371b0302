package cmd

import (
	"github.com/ignitionstack/kvbridge/cmd/guest"
)

func init() {
	rootCmd.AddCommand(guest.NewRunCommand())
	rootCmd.AddCommand(guest.NewCallCommand())
}
