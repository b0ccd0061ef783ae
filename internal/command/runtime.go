package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	"taskpilot/cli/internal/apiclient"
	"taskpilot/cli/internal/application"
	"taskpilot/cli/internal/config"
	"taskpilot/cli/internal/global"
	"taskpilot/cli/internal/logging"
	"taskpilot/cli/internal/metrics"
	"taskpilot/cli/internal/present"
	"taskpilot/cli/internal/session"
)

var ErrNotSignedIn = errors.New("not signed in, run `taskpilot login` first")

const expiredNotice = "Your session has expired. Please log in again with `taskpilot login`."

// runtime is the per-invocation state shared by every command: resolved
// config, output printer and logger.
type runtime struct {
	deps    Deps
	cfg     config.Config
	dir     string
	store   *global.ConfigStore
	file    global.GlobalConfig
	printer present.Printer
	logger  *slog.Logger
	expired atomic.Bool
}

// newRuntime resolves configuration in order: environment, config file for
// whatever the environment left unset, then global flags.
func newRuntime(c *cli.Context, deps Deps, longRunning bool) (*runtime, error) {
	dir, err := configDir(deps)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	store := global.NewConfigStore(dir)
	file, err := store.LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	cfg := loadConfig(deps).Overlay(file.Server.BaseURL, file.Server.RealtimeURL, file.ReconnectDelay(), file.Output.Format)
	cfg.ConfigDir = dir

	if c.IsSet("base-url") {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(c.String("base-url")), "/")
		if !c.IsSet("realtime-url") {
			cfg.RealtimeURL = config.DeriveRealtimeURL(cfg.BaseURL)
		}
	}
	if c.IsSet("realtime-url") {
		cfg.RealtimeURL = strings.TrimSpace(c.String("realtime-url"))
	}
	if c.IsSet("output") {
		cfg.OutputFormat = c.String("output")
	}
	format, err := present.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}

	// One-shot commands stay quiet unless asked; watch logs at the configured level.
	level := "warn"
	switch {
	case c.IsSet("log-level"):
		level = c.String("log-level")
	case longRunning:
		level = cfg.LogLevel
	}
	cfg.LogLevel = level

	return &runtime{
		deps:  deps,
		cfg:   cfg,
		dir:   dir,
		store: store,
		file:  file,
		printer: present.Printer{
			W:      stdout(deps),
			Format: format,
			Now:    deps.Now,
		},
		logger: logging.NewLogger(logging.Options{
			Level:     level,
			Writer:    stderr(deps),
			Component: "taskpilot",
		}),
	}, nil
}

func (r *runtime) start(ctx context.Context, tweak func(*application.StartOptions)) (*application.Application, error) {
	opts := application.StartOptions{
		Config:    r.cfg,
		ConfigDir: r.dir,
		Logger:    r.logger,
		Metrics:   metrics.New(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	app, err := startApplication(ctx, r.deps, opts)
	if err != nil {
		return nil, err
	}
	app.Session.OnSessionDestroyed(func(reason session.Reason) {
		if reason != session.ReasonExpired {
			return
		}
		if r.expired.CompareAndSwap(false, true) {
			fmt.Fprintln(stderr(r.deps), expiredNotice)
		}
	})
	return app, nil
}

// withSession starts the application, resumes the persisted session and runs
// fn while it is established. The application is always shut down after.
func withSession(c *cli.Context, deps Deps, fn func(*runtime, *application.Application) error) error {
	rt, err := newRuntime(c, deps, false)
	if err != nil {
		return err
	}
	app, err := rt.start(c.Context, nil)
	if err != nil {
		return err
	}
	defer func() { _ = app.Shutdown(context.Background()) }()

	if !app.Restore(c.Context) {
		if rt.expired.Load() {
			return apiclient.ErrSessionExpired
		}
		return ErrNotSignedIn
	}
	return fn(rt, app)
}

// requireSync surfaces a failed initial task load so commands never act on an
// empty cache as if it were real.
func requireSync(app *application.Application) error {
	if err := app.InitialSyncError(); err != nil {
		return err
	}
	return nil
}

// ReportError writes err for the user. Session expiry has already been
// announced when it happened and is not repeated.
func ReportError(w io.Writer, err error) {
	if err == nil || apiclient.IsHandledGlobally(err) {
		return
	}
	fmt.Fprintf(w, "taskpilot: %s\n", apiclient.Message(err))
}
