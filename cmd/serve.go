package cmd

import (
	"github.com/ignitionstack/kvbridge/cmd/server"
)

func init() {
	rootCmd.AddCommand(server.NewServeCommand())
}
