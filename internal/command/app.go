package command

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"taskpilot/cli/internal/application"
	"taskpilot/cli/internal/config"
	"taskpilot/cli/internal/global"
)

type Deps struct {
	LoadConfig       func() config.Config
	ConfigDir        func() (string, error)
	StartApplication func(context.Context, application.StartOptions) (*application.Application, error)
	Stdin            io.Reader
	Stdout           io.Writer
	Stderr           io.Writer
	Now              func() time.Time
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:      "taskpilot",
		Usage:     "tasks, insights and live updates from the terminal",
		Writer:    stdout(deps),
		ErrWriter: stderr(deps),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output format: table, json or yaml"},
			&cli.StringFlag{Name: "base-url", Usage: "API base URL"},
			&cli.StringFlag{Name: "realtime-url", Usage: "push channel URL (derived from --base-url when unset)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: []string{"TASKPILOT_LOG_LEVEL"}},
		},
		Action: func(c *cli.Context) error {
			return listTasks(c, deps)
		},
		Commands: []*cli.Command{
			loginCommand(deps),
			signupCommand(deps),
			logoutCommand(deps),
			whoamiCommand(deps),
			tasksCommand(deps),
			statsCommand(deps),
			insightsCommand(deps),
			scheduleCommand(deps),
			watchCommand(deps),
			configCommand(deps),
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func configDir(deps Deps) (string, error) {
	if deps.ConfigDir != nil {
		return deps.ConfigDir()
	}
	return global.DefaultConfigDir()
}

func startApplication(ctx context.Context, deps Deps, opts application.StartOptions) (*application.Application, error) {
	if deps.StartApplication != nil {
		return deps.StartApplication(ctx, opts)
	}
	return application.StartApplication(ctx, opts)
}

func stdout(deps Deps) io.Writer {
	if deps.Stdout != nil {
		return deps.Stdout
	}
	return os.Stdout
}

func stderr(deps Deps) io.Writer {
	if deps.Stderr != nil {
		return deps.Stderr
	}
	return os.Stderr
}

func stdin(deps Deps) io.Reader {
	if deps.Stdin != nil {
		return deps.Stdin
	}
	return os.Stdin
}

func now(deps Deps) time.Time {
	if deps.Now != nil {
		return deps.Now()
	}
	return time.Now()
}
