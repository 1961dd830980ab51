// Package main provides the CLI for the CloudDQ rule compiler.
package main

import (
	"os"

	"github.com/hejnal/cloud-data-quality/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
