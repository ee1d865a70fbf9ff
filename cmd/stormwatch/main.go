package main

import (
	"os"

	"github.com/stormwatch-systems/stormwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
