// Package main is the entry point for the fabrix CLI.
package main

import (
	"os"

	"github.com/KafClaw/fabrix/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
