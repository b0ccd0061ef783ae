package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"taskpilot/cli/internal/apiclient"
	"taskpilot/cli/internal/config"
	"taskpilot/cli/internal/db"
	"taskpilot/cli/internal/insights"
	"taskpilot/cli/internal/lifecycle"
	"taskpilot/cli/internal/logging"
	"taskpilot/cli/internal/metrics"
	"taskpilot/cli/internal/realtime"
	"taskpilot/cli/internal/session"
	"taskpilot/cli/internal/sessionstore"
	"taskpilot/cli/internal/taskstore"
)

const (
	dbFileName     = "taskpilot.db"
	secretFileName = ".taskpilot-session-secret"
)

// Application wires the session manager to the task cache and the realtime
// channel: a new session reloads tasks and (when live) opens the channel, a
// destroyed session stops the channel and empties the cache.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Collectors
	gdb     *gorm.DB
	dbDSN   string
	baseCtx context.Context

	API      *apiclient.Client
	Session  *session.Manager
	Tasks    *taskstore.Store
	Insights *insights.Client
	Channel  *realtime.Channel

	mu          sync.Mutex
	lastSyncErr error
	closeOnce   sync.Once
	closeErr    error
}

func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	configDir := strings.TrimSpace(opts.ConfigDir)
	if configDir == "" {
		return nil, fmt.Errorf("config dir is required")
	}
	dsn := strings.TrimSpace(opts.DBDSN)
	if dsn == "" {
		dsn = filepath.Join(configDir, dbFileName)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := opts.Config
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = config.DefaultBaseURL
	}
	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		cfg.RealtimeURL = config.DeriveRealtimeURL(cfg.BaseURL)
	}

	gdb, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	persist, err := sessionstore.NewStore(gdb, filepath.Join(configDir, secretFileName))
	if err != nil {
		_ = db.Close(gdb)
		return nil, err
	}

	api := apiclient.New(cfg.BaseURL,
		apiclient.WithHTTPClient(opts.HTTPClient),
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithLogger(logger.With("module", "apiclient")),
		apiclient.WithMetrics(opts.Metrics),
	)
	mgr := session.NewManager(api, persist, session.Options{
		Logger:  logger.With("module", "session"),
		Metrics: opts.Metrics,
	})
	api.SetAuthenticator(mgr)
	tasks := taskstore.New(api, mgr, taskstore.Options{
		Logger:  logger.With("module", "taskstore"),
		Metrics: opts.Metrics,
	})
	if opts.OnTasksChanged != nil {
		tasks.OnChange(opts.OnTasksChanged)
	}

	app := &Application{
		cfg:      cfg,
		logger:   logger,
		metrics:  opts.Metrics,
		gdb:      gdb,
		dbDSN:    dsn,
		baseCtx:  ctx,
		API:      api,
		Session:  mgr,
		Tasks:    tasks,
		Insights: insights.NewClient(api, mgr),
	}
	app.Channel = realtime.NewChannel(realtime.Options{
		URL:            cfg.RealtimeURL,
		Dialer:         opts.Dialer,
		Handler:        app.onRealtimeEvent,
		ReconnectDelay: cfg.ReconnectDelay,
		Header:         mgr.AuthHeader,
		Logger:         logger.With("module", "realtime"),
		Metrics:        opts.Metrics,
		OnStateChange:  opts.OnRealtimeState,
	})

	live := opts.Live
	mgr.OnSessionEstablished(func(ctx context.Context, s session.Session) {
		err := tasks.Reload(ctx)
		app.setSyncErr(err)
		if err != nil && !apiclient.IsHandledGlobally(err) {
			logger.Warn("initial task sync failed", "user_id", s.User.ID, "err", err)
		}
		if live && mgr.Authenticated() {
			app.Channel.Start(app.baseCtx)
		}
	})
	mgr.OnSessionDestroyed(func(reason session.Reason) {
		app.Channel.Stop()
		tasks.Reset()
		logger.Info("session ended, runtime torn down", "reason", string(reason))
	})
	return app, nil
}

func (a *Application) onRealtimeEvent(ctx context.Context, ev realtime.Event) {
	a.logger.Debug("task change pushed", "type", ev.Type)
	err := a.Tasks.Reload(ctx)
	switch {
	case err == nil, ctx.Err() != nil:
	case apiclient.IsHandledGlobally(err), errors.Is(err, taskstore.ErrNoSession):
	default:
		a.logger.Warn("refresh after push failed", "type", ev.Type, "err", err)
	}
}

func (a *Application) setSyncErr(err error) {
	a.mu.Lock()
	a.lastSyncErr = err
	a.mu.Unlock()
}

// InitialSyncError is the result of the reload that followed the most recent
// session establishment.
func (a *Application) InitialSyncError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSyncErr
}

// Restore resumes a persisted session, if any. Failure is silent and leaves
// the application signed out.
func (a *Application) Restore(ctx context.Context) bool {
	return a.Session.Restore(ctx)
}

func (a *Application) Config() config.Config {
	return a.cfg
}

func (a *Application) DBDSN() string {
	if a == nil {
		return ""
	}
	return a.dbDSN
}

// Run blocks until ctx is done, serving metrics when an address is
// configured, then shuts the application down.
func (a *Application) Run(ctx context.Context) error {
	mgr := lifecycle.NewManager(a.logger.With("module", "lifecycle"))
	if addr := strings.TrimSpace(a.cfg.MetricsAddr); addr != "" {
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(a.metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		mgr.AddRun("metrics-server", func(runCtx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("metrics listen %s: %w", addr, err)
			}
			a.logger.Info("metrics listening", "addr", ln.Addr().String())
			go func() {
				<-runCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	mgr.AddRun("wait", func(runCtx context.Context) error {
		<-runCtx.Done()
		return nil
	})
	mgr.AddShutdown("close", a.Shutdown)
	return mgr.StartAndWait(ctx)
}

// Shutdown stops the realtime channel and closes the database. The session
// is left persisted for the next process.
func (a *Application) Shutdown(context.Context) error {
	if a == nil {
		return nil
	}
	a.closeOnce.Do(func() {
		a.Channel.Stop()
		a.Channel.Wait()
		a.closeErr = db.Close(a.gdb)
	})
	return a.closeErr
}

func metricsMux(m *metrics.Collectors) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
