package main

import (
	"fmt"
	"os"

	"qafala_backend/internal/cli"
	"qafala_backend/internal/logger"
)

func main() {
	// stdout carries command output
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	logger.InitWriter(os.Stderr, level, false)

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
