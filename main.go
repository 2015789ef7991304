package main

import (
	"os"

	"github.com/fleetglide/dispatchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
