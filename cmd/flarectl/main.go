// Package main is the entry point for the flarectl operator tool.
package main

import (
	"os"

	"github.com/good-yellow-bee/flarepage/cmd/flarectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
