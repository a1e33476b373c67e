// Package main is the entry point for the encodr application.
package main

import (
	"os"

	"github.com/jmylchreest/encodr/cmd/encodr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
