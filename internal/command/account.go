package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"taskpilot/cli/internal/application"
	"taskpilot/cli/internal/session"
)

func loginCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in and remember the session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "read from stdin when omitted"},
		},
		Action: func(c *cli.Context) error {
			password, err := passwordFrom(c, deps)
			if err != nil {
				return err
			}
			return authenticate(c, deps, func(ctx context.Context, m *session.Manager) (session.Session, error) {
				return m.Login(ctx, strings.TrimSpace(c.String("username")), password)
			})
		},
	}
}

func signupCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "signup",
		Usage: "create an account and sign in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "full-name"},
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "read from stdin when omitted"},
		},
		Action: func(c *cli.Context) error {
			password, err := passwordFrom(c, deps)
			if err != nil {
				return err
			}
			return authenticate(c, deps, func(ctx context.Context, m *session.Manager) (session.Session, error) {
				return m.Signup(ctx,
					strings.TrimSpace(c.String("full-name")),
					strings.TrimSpace(c.String("username")),
					strings.TrimSpace(c.String("email")),
					password,
				)
			})
		},
	}
}

func authenticate(c *cli.Context, deps Deps, do func(context.Context, *session.Manager) (session.Session, error)) error {
	rt, err := newRuntime(c, deps, false)
	if err != nil {
		return err
	}
	app, err := rt.start(c.Context, nil)
	if err != nil {
		return err
	}
	defer func() { _ = app.Shutdown(context.Background()) }()

	s, err := do(c.Context, app.Session)
	if err != nil {
		return err
	}
	if err := app.InitialSyncError(); err != nil {
		rt.logger.Warn("signed in but the first task sync failed", "err", err)
	}
	return rt.printer.Message("Signed in as %s. %d tasks synced.", s.User.DisplayName(), app.Tasks.Stats().Total)
}

func logoutCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "sign out and forget the stored session",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, deps, false)
			if err != nil {
				return err
			}
			app, err := rt.start(c.Context, nil)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown(context.Background()) }()
			app.Session.Logout()
			return rt.printer.Message("Signed out.")
		},
	}
}

func whoamiCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the signed-in user",
		Action: func(c *cli.Context) error {
			return withSession(c, deps, func(rt *runtime, app *application.Application) error {
				s, ok := app.Session.Current()
				if !ok {
					return ErrNotSignedIn
				}
				return rt.printer.User(s.User)
			})
		},
	}
}

// passwordFrom takes --password, or the first line of stdin.
func passwordFrom(c *cli.Context, deps Deps) (string, error) {
	if c.IsSet("password") {
		return c.String("password"), nil
	}
	line, err := bufio.NewReader(stdin(deps)).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if err != nil && line == "" {
		return "", fmt.Errorf("read password from stdin: %w", errors.Join(errPasswordRequired, err))
	}
	if line == "" {
		return "", errPasswordRequired
	}
	return line, nil
}

var errPasswordRequired = errors.New("password is required")
