package main

import (
	"os"

	"github.com/psantana5/workgate/cmd/workgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
