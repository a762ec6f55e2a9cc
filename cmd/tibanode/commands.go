package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/olekukonko/tablewriter"
	"github.com/tidwall/gjson"

	"github.com/tibanode/tibanode-client/lib"
	"github.com/tibanode/tibanode-client/lib/logger"
	"github.com/tibanode/tibanode-client/session"
	"github.com/tibanode/tibanode-client/session/api"
)

// LoginCmd logs in and stores the session
type LoginCmd struct {
	Email    string `help:"Account email" env:"TIBANODE_EMAIL"`
	Password string `help:"Account password, prompted for when omitted" env:"TIBANODE_PASSWORD"`
}

func (c *LoginCmd) Run(g *Globals) error {
	if err := askIfEmpty(g.Prompter, &c.Email, "Email", false); err != nil {
		return trace.Wrap(err)
	}
	if err := askIfEmpty(g.Prompter, &c.Password, "Password", true); err != nil {
		return trace.Wrap(err)
	}

	return withApp(g, func(ctx context.Context, app *App) error {
		if err := app.Controller.Login(ctx, c.Email, c.Password); err != nil {
			return trace.Wrap(err)
		}
		return printState(g, app.Controller.State())
	})
}

// RegisterCmd creates an account
type RegisterCmd struct {
	Email           string `help:"Account email"`
	Password        string `help:"Account password, prompted for when omitted"`
	PasswordConfirm string `name:"password-confirm" help:"Password confirmation, prompted for when omitted"`
}

func (c *RegisterCmd) Run(g *Globals) error {
	if err := askIfEmpty(g.Prompter, &c.Email, "Email", false); err != nil {
		return trace.Wrap(err)
	}
	if err := askIfEmpty(g.Prompter, &c.Password, "Password", true); err != nil {
		return trace.Wrap(err)
	}
	if err := askIfEmpty(g.Prompter, &c.PasswordConfirm, "Confirm password", true); err != nil {
		return trace.Wrap(err)
	}

	return withApp(g, func(ctx context.Context, app *App) error {
		err := app.Controller.Register(ctx, api.RegisterRequest{
			Email:           c.Email,
			Password:        c.Password,
			PasswordConfirm: c.PasswordConfirm,
		})
		if validationErr, ok := api.AsValidationError(err); ok {
			for field, msgs := range validationErr.Fields {
				for _, msg := range msgs {
					fmt.Fprintf(g.Stderr, "  %s: %s\n", field, msg)
				}
			}
		}
		return trace.Wrap(err)
	})
}

// LogoutCmd forgets the stored session
type LogoutCmd struct{}

func (c *LogoutCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, app *App) error {
		app.Controller.Logout(ctx)
		return nil
	})
}

// WhoamiCmd restores the stored session and prints it
type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, app *App) error {
		if err := app.Controller.Restore(ctx); err != nil {
			return trace.Wrap(err)
		}
		return printState(g, app.Controller.State())
	})
}

// TokenCmd prints the claims of the stored tokens without verifying them
type TokenCmd struct{}

func (c *TokenCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, app *App) error {
		creds, err := app.Store.Load(ctx)
		if err != nil {
			return trace.Wrap(err)
		}
		if creds == nil {
			return trace.Wrap(session.ErrNoSession)
		}

		table := tablewriter.NewWriter(g.Stdout)
		table.SetHeader([]string{"Token", "Type", "User", "Expires"})
		for _, item := range []struct {
			name  string
			token string
		}{
			{"access", creds.AccessToken},
			{"refresh", creds.RefreshToken},
		} {
			table.Append(describeToken(item.name, item.token))
		}
		table.Render()
		return nil
	})
}

func describeToken(name, token string) []string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return []string{name, "opaque", "", ""}
	}

	tokenType, _ := claims["token_type"].(string)
	user := ""
	switch id := claims["user_id"].(type) {
	case float64:
		user = strconv.FormatInt(int64(id), 10)
	case string:
		user = id
	}
	if user == "" {
		user, _ = claims.GetSubject()
	}
	expires := ""
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.UTC().Format(time.RFC3339)
	}
	return []string{name, tokenType, user, expires}
}

// GetCmd sends an authenticated GET request
type GetCmd struct {
	Path  string   `arg:"true" help:"Request path relative to the API base URL, e.g. /clients/"`
	Param []string `short:"p" help:"Query parameters as key=value, e.g. -p search=jane"`
	Query string   `short:"q" help:"GJSON path to extract from the response, e.g. '#.first_name'"`
}

func (c *GetCmd) Run(g *Globals) error {
	// the token must only ever go to the configured API
	u, err := url.Parse(c.Path)
	if err != nil {
		return trace.BadParameter("invalid path %q: %v", c.Path, err)
	}
	if u.Scheme != "" || u.Host != "" {
		return trace.BadParameter("path %q must be relative to the API URL", c.Path)
	}

	return withApp(g, func(ctx context.Context, app *App) error {
		query := url.Values{}
		for _, param := range c.Param {
			k, v, ok := strings.Cut(param, "=")
			if !ok {
				return trace.BadParameter("query parameter %q is not in key=value form", param)
			}
			query.Add(k, v)
		}

		resp, err := app.Controller.Gateway().Do(ctx, session.Request{
			Method: http.MethodGet,
			Path:   c.Path,
			Query:  query,
		})
		if err != nil {
			return trace.Wrap(err)
		}

		raw := string(resp.Body())
		if c.Query != "" {
			result := gjson.Get(raw, c.Query)
			if !result.Exists() {
				return trace.NotFound("%q matched nothing in the response", c.Query)
			}
			raw = result.Raw
		}
		fmt.Fprint(g.Stdout, gjson.Get(raw, "@pretty").String())
		return nil
	})
}

// VersionCmd prints the version
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Fprintf(g.Stdout, "%s v%s git:%s %s\n", appName, Version, Gitref, runtimeVersion())
	return nil
}

func withApp(g *Globals, fn func(ctx context.Context, app *App) error) error {
	ctx, cancel := lib.SignalContext(context.Background())
	defer cancel()

	app, err := NewApp(g)
	if err != nil {
		return trace.Wrap(err)
	}
	defer app.Close()

	err = fn(ctx, app)
	if g.Debug {
		if dumpErr := dumpMetrics(g.Stderr, app.Metrics); dumpErr != nil {
			logger.Get(ctx).WithError(dumpErr).Warn("Failed to print metrics")
		}
	}
	return trace.Wrap(err)
}

func printState(g *Globals, st session.State) error {
	table := tablewriter.NewWriter(g.Stdout)
	table.SetHeader([]string{"Status", "ID", "Email"})
	id, email := "", ""
	if st.User != nil {
		id = strconv.FormatInt(st.User.ID, 10)
		email = st.User.Email
	}
	table.Append([]string{st.Status.String(), id, email})
	table.Render()
	return nil
}
