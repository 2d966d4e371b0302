package main

import "github.com/ignitionstack/kvbridge/cmd"

func main() {
	cmd.Execute()
}
