// Package main is the breakfix command line entry point.
package main

import (
	"os"

	"github.com/Iron-Ham/breakfix/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
