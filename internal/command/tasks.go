package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"taskpilot/cli/internal/application"
	"taskpilot/cli/internal/present"
	"taskpilot/cli/internal/taskstore"
)

const recentLimit = 8

var errNothingToUpdate = errors.New("nothing to update, pass at least one field flag")

func tasksCommand(deps Deps) *cli.Command {
	listFlags := []cli.Flag{
		&cli.StringFlag{Name: "status", Value: string(taskstore.FilterAll), Usage: "all, todo, in_progress, done or blocked"},
		&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "match title, description or tag"},
	}
	return &cli.Command{
		Name:   "tasks",
		Usage:  "list and manage tasks",
		Flags:  listFlags,
		Action: func(c *cli.Context) error { return listTasks(c, deps) },
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "list tasks matching a status filter and search",
				Flags:   listFlags,
				Action:  func(c *cli.Context) error { return listTasks(c, deps) },
			},
			{
				Name:  "show",
				Usage: "show one task",
				Action: func(c *cli.Context) error {
					id, err := taskID(c)
					if err != nil {
						return err
					}
					return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
						t, ok := app.Tasks.Get(id)
						if !ok {
							return fmt.Errorf("%w: %s", taskstore.ErrTaskNotFound, id)
						}
						return rt.printer.Task(t)
					})
				},
			},
			{
				Name:  "add",
				Usage: "create a task",
				Flags: append(fieldFlags(), &cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true}),
				Action: func(c *cli.Context) error {
					f, err := fieldsFrom(c, deps)
					if err != nil {
						return err
					}
					return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
						created, err := app.Tasks.Create(c.Context, f)
						if err != nil {
							return err
						}
						return rt.printer.Task(created)
					})
				},
			},
			{
				Name:  "edit",
				Usage: "change fields of a task",
				Flags: append(fieldFlags(), &cli.StringFlag{Name: "title", Aliases: []string{"t"}}),
				Action: func(c *cli.Context) error {
					id, err := taskID(c)
					if err != nil {
						return err
					}
					f, err := fieldsFrom(c, deps)
					if err != nil {
						return err
					}
					if f == (taskstore.Fields{}) {
						return errNothingToUpdate
					}
					return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
						updated, err := app.Tasks.Update(c.Context, id, f)
						if err != nil {
							return err
						}
						return rt.printer.Task(updated)
					})
				},
			},
			{
				Name:  "done",
				Usage: "toggle a task between done and todo",
				Action: func(c *cli.Context) error {
					id, err := taskID(c)
					if err != nil {
						return err
					}
					return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
						t, err := app.Tasks.ToggleDone(c.Context, id)
						if err != nil {
							return err
						}
						return rt.printer.Message("%s is now %s.", t.Title, present.StatusLabel(t.Status))
					})
				},
			},
			{
				Name:    "rm",
				Aliases: []string{"delete"},
				Usage:   "delete a task",
				Action: func(c *cli.Context) error {
					id, err := taskID(c)
					if err != nil {
						return err
					}
					return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
						if err := app.Tasks.Delete(c.Context, id); err != nil {
							return err
						}
						return rt.printer.Message("Deleted task %s. %d tasks left.", id, app.Tasks.Stats().Total)
					})
				},
			},
			{
				Name:  "breakdown",
				Usage: "suggest subtasks for a task",
				Action: func(c *cli.Context) error {
					id, err := taskID(c)
					if err != nil {
						return err
					}
					return withSession(c, deps, func(rt *runtime, app *application.Application) error {
						b, err := app.Tasks.Breakdown(c.Context, id)
						if err != nil {
							return err
						}
						return rt.printer.Breakdown(b)
					})
				},
			},
			{
				Name:  "estimate",
				Usage: "estimate the effort of a task",
				Action: func(c *cli.Context) error {
					id, err := taskID(c)
					if err != nil {
						return err
					}
					return withSession(c, deps, func(rt *runtime, app *application.Application) error {
						e, err := app.Tasks.Estimate(c.Context, id)
						if err != nil {
							return err
						}
						return rt.printer.Estimate(e)
					})
				},
			},
			{
				Name:  "recent",
				Usage: "show the most recent tasks",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: recentLimit},
				},
				Action: func(c *cli.Context) error {
					return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
						return rt.printer.Tasks(app.Tasks.Recent(c.Int("limit")), emptyHint(app))
					})
				},
			},
		},
	}
}

func statsCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "count tasks by status",
		Action: func(c *cli.Context) error {
			return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
				return rt.printer.Stats(app.Tasks.Stats())
			})
		},
	}
}

func listTasks(c *cli.Context, deps Deps) error {
	filter, err := taskstore.ParseFilter(c.String("status"))
	if err != nil {
		return err
	}
	return withTasks(c, deps, func(rt *runtime, app *application.Application) error {
		if err := app.Tasks.SetFilter(filter); err != nil {
			return err
		}
		app.Tasks.SetSearch(c.String("search"))
		return rt.printer.Tasks(app.Tasks.View(), emptyHint(app))
	})
}

// withTasks is withSession for commands that read the task cache.
func withTasks(c *cli.Context, deps Deps, fn func(*runtime, *application.Application) error) error {
	return withSession(c, deps, func(rt *runtime, app *application.Application) error {
		if err := requireSync(app); err != nil {
			return err
		}
		return fn(rt, app)
	})
}

func emptyHint(app *application.Application) string {
	if app.Tasks.Stats().Total == 0 {
		return "No tasks yet. Create one with `taskpilot tasks add --title ...`."
	}
	return "No tasks match the current filter."
}

func fieldFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
		&cli.StringFlag{Name: "status", Usage: "todo, in_progress, done or blocked"},
		&cli.StringFlag{Name: "due", Usage: "RFC3339, YYYY-MM-DD or YYYY-MM-DD HH:MM (local time)"},
		&cli.StringFlag{Name: "parent", Usage: "parent task id"},
		&cli.StringSliceFlag{Name: "tag"},
	}
}

// fieldsFrom builds a payload from the flags the user actually passed.
func fieldsFrom(c *cli.Context, deps Deps) (taskstore.Fields, error) {
	var f taskstore.Fields
	if c.IsSet("title") {
		v := c.String("title")
		f.Title = &v
	}
	if c.IsSet("description") {
		v := c.String("description")
		f.Description = &v
	}
	if c.IsSet("status") {
		s, err := taskstore.ParseStatus(c.String("status"))
		if err != nil {
			return taskstore.Fields{}, err
		}
		f.Status = &s
	}
	if c.IsSet("due") {
		due, err := parseDue(c.String("due"), now(deps).Location())
		if err != nil {
			return taskstore.Fields{}, err
		}
		f.DueAt = &due
	}
	if c.IsSet("parent") {
		v := strings.TrimSpace(c.String("parent"))
		f.ParentTaskID = &v
	}
	if c.IsSet("tag") {
		tags := make([]string, 0, len(c.StringSlice("tag")))
		for _, t := range c.StringSlice("tag") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		f.Tags = &tags
	}
	return f, nil
}

var dueLayouts = []string{"2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func parseDue(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date %q (want RFC3339, YYYY-MM-DD or YYYY-MM-DD HH:MM)", v)
}

func taskID(c *cli.Context) (string, error) {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return "", errors.New("task id argument is required")
	}
	return id, nil
}
