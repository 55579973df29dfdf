// Package main is the entry point for the tideclaw CLI.
package main

import (
	"os"

	"github.com/tideclaw/tideclaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
