// Package main provides the entry point for the Mentora tutoring server.
package main

import (
	"fmt"
	"os"

	"github.com/mentora-ai/mentora/cmd/mentora/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
