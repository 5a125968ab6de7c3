package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/refill-sh/refill/internal/bridge"
	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/engine"
	"github.com/refill-sh/refill/internal/errors"
	"github.com/refill-sh/refill/internal/recording"
	"github.com/refill-sh/refill/internal/store"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(eng *engine.Engine, st *store.Store, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "refill",
		Usage:   "Form-field session recorder",
		Version: Version,
		Commands: []*cli.Command{
			listCmd(eng),
			showCmd(eng),
			deleteCmd(eng),
			purgeCmd(st),
			serveCmd(st, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// listCmd creates the list command.
func listCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored capture sessions, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Restrict to the page key of this URL"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Page size (default 20, max 100)"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Sessions to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := eng.GetRecords(c.Context, c.String("url"), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one capture session with its fields",
		ArgsUsage: "<page-key> <session-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return outputError(errors.NewInvalidRequest("usage: refill show <page-key> <session-id>"))
			}
			sessionID, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return outputError(errors.NewInvalidRequest("session-id must be an integer"))
			}

			sess, err := eng.GetSessionDetail(c.Context, c.Args().Get(0), sessionID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"session": sess})
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete one session, or every session for a page key",
		ArgsUsage: "<page-key> [session-id]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("usage: refill delete <page-key> [session-id]"))
			}

			var sessionID *int64
			if c.NArg() > 1 {
				id, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
				if err != nil {
					return outputError(errors.NewInvalidRequest("session-id must be an integer"))
				}
				sessionID = &id
			}

			output, err := eng.DeleteRecord(c.Context, c.Args().Get(0), sessionID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(st *store.Store) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Run the retention sweep across all pages, evicting oldest sessions beyond the cap",
		Action: func(c *cli.Context) error {
			evicted, err := st.EnforceRetention(c.Context, "", nil)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"evicted_sessions": evicted})
		},
	}
}

// serveCmd creates the serve command: the bridge and engine without MCP.
func serveCmd(st *store.Store, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the page-context bridge in the foreground",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (default from config)"},
			&cli.IntFlag{Name: "port", Usage: "Listen port (default from config)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log level: debug|info|warn|error"},
		},
		Action: func(c *cli.Context) error {
			if bind := c.String("bind"); bind != "" {
				cfg.BridgeBind = bind
			}
			if port := c.Int("port"); port != 0 {
				cfg.BridgePort = port
			}

			log := logrus.New()
			log.SetOutput(os.Stderr)
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return outputError(errors.NewInvalidRequest("unknown log level " + c.String("log-level")))
			}
			log.SetLevel(level)

			br := bridge.NewServer(cfg, log)
			eng := engine.New(st, recording.NewRegistry(), cfg, br, log)
			br.SetHandler(eng)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return br.ListenAndServe(ctx)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if eErr, ok := err.(*errors.EngineError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", eErr.Code, eErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
