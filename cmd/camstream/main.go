// Package main is the entry point for camstream.
package main

import (
	"os"

	"camstream/cmd/camstream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
