package command

import (
	"github.com/urfave/cli/v2"

	"taskpilot/cli/internal/application"
	"taskpilot/cli/internal/insights"
)

func insightsCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "insights",
		Usage: "productivity score, peak hours and risk levels",
		Action: func(c *cli.Context) error {
			return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
				b, err := app.Insights.Behavior(c.Context)
				if err != nil {
					return err
				}
				return rt.printer.Report(insights.Summarize(b, app.Tasks.Stats()))
			})
		},
	}
}

func scheduleCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "lay tasks out in time blocks",
		ArgsUsage: "<task-id>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "start time, defaults to now"},
		},
		Action: func(c *cli.Context) error {
			start := now(deps)
			if c.IsSet("start") {
				t, err := parseDue(c.String("start"), start.Location())
				if err != nil {
					return err
				}
				start = t
			}
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return insights.ErrNoTasks
			}
			return withSession(c, deps, func(rt *runtime, app *application.Application) error {
				s, err := app.Insights.OptimizeSchedule(c.Context, ids, start)
				if err != nil {
					return err
				}
				return rt.printer.Schedule(s)
			})
		},
	}
}
