package command

import (
	"context"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"taskpilot/cli/internal/apiclient"
	"taskpilot/cli/internal/application"
	"taskpilot/cli/internal/realtime"
	"taskpilot/cli/internal/session"
	"taskpilot/cli/internal/taskstore"
)

func watchCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "keep the task list live and reprint it on every pushed change",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Value: string(taskstore.FilterAll)},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve prometheus metrics on this address", EnvVars: []string{"TASKPILOT_METRICS_ADDR"}},
		},
		Action: func(c *cli.Context) error {
			filter, err := taskstore.ParseFilter(c.String("status"))
			if err != nil {
				return err
			}
			rt, err := newRuntime(c, deps, true)
			if err != nil {
				return err
			}
			if c.IsSet("metrics-addr") {
				rt.cfg.MetricsAddr = strings.TrimSpace(c.String("metrics-addr"))
			}
			return runWatch(c.Context, rt, filter, c.String("search"))
		},
	}
}

func runWatch(parent context.Context, rt *runtime, filter taskstore.Filter, search string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		outMu sync.Mutex
		app   *application.Application
	)
	printView := func() {
		if app == nil || !app.Tasks.Loaded() {
			return
		}
		outMu.Lock()
		defer outMu.Unlock()
		if err := rt.printer.Tasks(app.Tasks.View(), emptyHint(app)); err != nil {
			rt.logger.Warn("print task list failed", "err", err)
		}
	}
	app, err := rt.start(ctx, func(opts *application.StartOptions) {
		opts.Live = true
		opts.OnTasksChanged = printView
		opts.OnRealtimeState = func(s realtime.State) {
			outMu.Lock()
			defer outMu.Unlock()
			_ = rt.printer.Message("realtime: %s", s)
		}
	})
	if err != nil {
		return err
	}
	defer func() { _ = app.Shutdown(context.Background()) }()

	app.Session.OnSessionDestroyed(func(session.Reason) { cancel() })
	if err := app.Tasks.SetFilter(filter); err != nil {
		return err
	}
	app.Tasks.SetSearch(search)

	if !app.Restore(ctx) {
		if rt.expired.Load() {
			return apiclient.ErrSessionExpired
		}
		return ErrNotSignedIn
	}
	if err := app.InitialSyncError(); err != nil {
		rt.logger.Warn("initial task sync failed, waiting for pushes", "err", err)
	}
	if err := app.Run(ctx); err != nil {
		return err
	}
	if rt.expired.Load() {
		return apiclient.ErrSessionExpired
	}
	return nil
}
