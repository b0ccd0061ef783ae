package global

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"

	defaultBaseURL          = "http://127.0.0.1:8000"
	defaultReconnectDelayMS = 3000
	defaultOutputFormat     = "table"
)

type ServerConfig struct {
	BaseURL     string `json:"base_url" toml:"base_url"`
	RealtimeURL string `json:"realtime_url,omitempty" toml:"realtime_url,omitempty"`
}

type RealtimeConfig struct {
	ReconnectDelayMS int `json:"reconnect_delay_ms" toml:"reconnect_delay_ms"`
}

type OutputConfig struct {
	Format string `json:"format" toml:"format"`
}

type GlobalConfig struct {
	Server   ServerConfig   `json:"server" toml:"server"`
	Realtime RealtimeConfig `json:"realtime" toml:"realtime"`
	Output   OutputConfig   `json:"output" toml:"output"`
}

func (c GlobalConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.Realtime.ReconnectDelayMS) * time.Millisecond
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Dir() string {
	return s.dir
}

func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return normalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := normalizeConfig(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), normalizeConfig(cfg))
}

func normalizeConfig(cfg GlobalConfig) GlobalConfig {
	base := strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	if u, err := url.Parse(base); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		base = defaultBaseURL
	}
	cfg.Server.BaseURL = base

	rt := strings.TrimSpace(cfg.Server.RealtimeURL)
	if u, err := url.Parse(rt); rt != "" && (err != nil || (u.Scheme != "ws" && u.Scheme != "wss")) {
		rt = ""
	}
	cfg.Server.RealtimeURL = rt

	if cfg.Realtime.ReconnectDelayMS <= 0 {
		cfg.Realtime.ReconnectDelayMS = defaultReconnectDelayMS
	}

	switch format := strings.ToLower(strings.TrimSpace(cfg.Output.Format)); format {
	case "json", "yaml", "table":
		cfg.Output.Format = format
	default:
		cfg.Output.Format = defaultOutputFormat
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
