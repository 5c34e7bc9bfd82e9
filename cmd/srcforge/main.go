// Package main provides the entry point for the srcforge CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Sumatoshi-tech/srcforge/cmd/srcforge/commands"
	"github.com/Sumatoshi-tech/srcforge/pkg/version"
)

func main() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	version.InitBinaryVersion()

	err := commands.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCode(err))
	}
}
