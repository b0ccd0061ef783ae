package application

import (
	"log/slog"
	"net/http"

	"taskpilot/cli/internal/config"
	"taskpilot/cli/internal/metrics"
	"taskpilot/cli/internal/realtime"
)

// StartOptions defines everything the controller needs to assemble the
// session, task cache and realtime channel.
type StartOptions struct {
	Config    config.Config
	ConfigDir string
	// DBDSN defaults to taskpilot.db inside ConfigDir.
	DBDSN      string
	Logger     *slog.Logger
	HTTPClient *http.Client
	Dialer     realtime.Dialer
	Metrics    *metrics.Collectors
	// Live starts the realtime channel whenever a session is established.
	Live            bool
	OnRealtimeState func(realtime.State)
	OnTasksChanged  func()
}
