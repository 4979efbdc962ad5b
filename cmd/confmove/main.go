// Package main provides the entry point for the confmove CLI.
package main

import (
	"os"

	"github.com/confmove/confmove/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
