// Package main is the entry point for the tvrec application.
package main

import (
	"os"

	"github.com/jmylchreest/tvrec/cmd/tvrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
