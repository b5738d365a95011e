package main

import (
	"os"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
