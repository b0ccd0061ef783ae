package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"taskpilot/cli/internal/application"
	"taskpilot/cli/internal/command"
	"taskpilot/cli/internal/config"
	"taskpilot/cli/internal/global"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:       config.LoadConfig,
		ConfigDir:        global.DefaultConfigDir,
		StartApplication: application.StartApplication,
		Stdin:            os.Stdin,
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
	})
	if err := app.RunContext(rootCtx, os.Args); err != nil {
		command.ReportError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
