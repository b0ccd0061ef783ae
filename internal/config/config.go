package config

import (
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL        string
	RealtimeURL    string
	LogLevel       string
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
	OutputFormat   string
	MetricsAddr    string
	ConfigDir      string
}

const (
	DefaultBaseURL        = "http://127.0.0.1:8000"
	defaultReconnectDelay = 3 * time.Second
	defaultRequestTimeout = 15 * time.Second
	realtimePath          = "/v1/realtime"
)

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

// Overlay fills fields left unset by the environment with values from the
// config file. Environment always wins.
func (c Config) Overlay(baseURL, realtimeURL string, reconnectDelay time.Duration, outputFormat string) Config {
	if os.Getenv("TASKPILOT_BASE_URL") == "" && strings.TrimSpace(baseURL) != "" {
		c.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if os.Getenv("TASKPILOT_REALTIME_URL") == "" {
			c.RealtimeURL = DeriveRealtimeURL(c.BaseURL)
		}
	}
	if os.Getenv("TASKPILOT_REALTIME_URL") == "" && strings.TrimSpace(realtimeURL) != "" {
		c.RealtimeURL = strings.TrimSpace(realtimeURL)
	}
	if os.Getenv("TASKPILOT_RECONNECT_DELAY_MS") == "" && reconnectDelay > 0 {
		c.ReconnectDelay = reconnectDelay
	}
	if os.Getenv("TASKPILOT_OUTPUT") == "" && strings.TrimSpace(outputFormat) != "" {
		c.OutputFormat = strings.ToLower(strings.TrimSpace(outputFormat))
	}
	return c
}

func loadFromEnv() Config {
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("TASKPILOT_BASE_URL")), "/")
	if base == "" {
		base = DefaultBaseURL
	}

	realtime := strings.TrimSpace(os.Getenv("TASKPILOT_REALTIME_URL"))
	if realtime == "" {
		realtime = DeriveRealtimeURL(base)
	}

	level := os.Getenv("TASKPILOT_LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	reconnect := defaultReconnectDelay
	if ms := atoiOrDefault(os.Getenv("TASKPILOT_RECONNECT_DELAY_MS"), 0); ms > 0 {
		reconnect = time.Duration(ms) * time.Millisecond
	}
	timeout := defaultRequestTimeout
	if ms := atoiOrDefault(os.Getenv("TASKPILOT_REQUEST_TIMEOUT_MS"), 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	output := strings.ToLower(strings.TrimSpace(os.Getenv("TASKPILOT_OUTPUT")))
	switch output {
	case "json", "yaml", "table":
	default:
		output = "table"
	}

	return Config{
		BaseURL:        base,
		RealtimeURL:    realtime,
		LogLevel:       level,
		ReconnectDelay: reconnect,
		RequestTimeout: timeout,
		OutputFormat:   output,
		MetricsAddr:    strings.TrimSpace(os.Getenv("TASKPILOT_METRICS_ADDR")),
		ConfigDir:      strings.TrimSpace(os.Getenv("TASKPILOT_CONFIG_DIR")),
	}
}

// DeriveRealtimeURL maps an http(s) API base to the ws(s) push endpoint.
func DeriveRealtimeURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://127.0.0.1:8000" + realtimePath
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + realtimePath
	u.RawQuery = ""
	return u.String()
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
