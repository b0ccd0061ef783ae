package command

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"taskpilot/cli/internal/global"
	"taskpilot/cli/internal/present"
)

// settableKeys maps config file keys to setters on the file model.
var settableKeys = map[string]func(*global.GlobalConfig, string) error{
	"server.base_url": func(g *global.GlobalConfig, v string) error {
		g.Server.BaseURL = v
		return nil
	},
	"server.realtime_url": func(g *global.GlobalConfig, v string) error {
		g.Server.RealtimeURL = v
		return nil
	},
	"realtime.reconnect_delay_ms": func(g *global.GlobalConfig, v string) error {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("reconnect_delay_ms must be a positive integer, got %q", v)
		}
		g.Realtime.ReconnectDelayMS = ms
		return nil
	},
	"output.format": func(g *global.GlobalConfig, v string) error {
		f, err := present.ParseFormat(v)
		if err != nil {
			return err
		}
		g.Output.Format = string(f)
		return nil
	},
}

func configCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect or change settings",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the effective settings",
				Action: func(c *cli.Context) error {
					rt, err := newRuntime(c, deps, false)
					if err != nil {
						return err
					}
					metricsAddr := rt.cfg.MetricsAddr
					if metricsAddr == "" {
						metricsAddr = "disabled"
					}
					return rt.printer.Pairs([][2]string{
						{"config_dir", rt.dir},
						{"config_file", filepath.Join(rt.dir, "config.toml")},
						{"base_url", rt.cfg.BaseURL},
						{"realtime_url", rt.cfg.RealtimeURL},
						{"reconnect_delay", rt.cfg.ReconnectDelay.String()},
						{"request_timeout", rt.cfg.RequestTimeout.String()},
						{"output", string(rt.printer.Format)},
						{"metrics_addr", metricsAddr},
					})
				},
			},
			{
				Name:      "set",
				Usage:     "write one key to the config file",
				ArgsUsage: "<key> <value>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 2 {
						return fmt.Errorf("usage: taskpilot config set <key> <value> (keys: %s)", strings.Join(keyNames(), ", "))
					}
					key := strings.ToLower(strings.TrimSpace(c.Args().Get(0)))
					set, ok := settableKeys[key]
					if !ok {
						return fmt.Errorf("unknown key %q (keys: %s)", key, strings.Join(keyNames(), ", "))
					}
					rt, err := newRuntime(c, deps, false)
					if err != nil {
						return err
					}
					next := rt.file
					if err := set(&next, strings.TrimSpace(c.Args().Get(1))); err != nil {
						return err
					}
					if err := rt.store.Save(next); err != nil {
						return fmt.Errorf("save config file: %w", err)
					}
					return rt.printer.Message("Set %s.", key)
				},
			},
		},
	}
}

func keyNames() []string {
	return []string{"server.base_url", "server.realtime_url", "realtime.reconnect_delay_ms", "output.format"}
}
