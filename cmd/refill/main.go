package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/refill-sh/refill/internal/bridge"
	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/db"
	"github.com/refill-sh/refill/internal/engine"
	"github.com/refill-sh/refill/internal/mcp"
	"github.com/refill-sh/refill/internal/recording"
	"github.com/refill-sh/refill/internal/session"
	"github.com/refill-sh/refill/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"list": true, "show": true, "delete": true,
	"purge": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
              __ _ _ _
   _ _ ___   / _(_) | |
  | '_/ -_) |  _| | | |
  |_| \___| |_| |_|_|_|

  Form-field session recorder

  Usage: refill <command> [options]
         refill --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".refill")

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	db.ConfigurePool(database, cfg)

	log := logrus.New()
	log.SetOutput(os.Stderr)

	// CLI mode: known subcommand
	if isCLIMode() {
		s := store.New(database, cfg, session.HeuristicMatcher{})
		eng := engine.New(s, recording.NewRegistry(), cfg, nil, log)
		app := newCLIApp(eng, s, cfg)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'refill --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default): stdio transport plus the page-context
	// bridge on loopback.
	for _, name := range mcp.ValidateDisabledTools(cfg.DisabledTools) {
		log.WithField("tool", name).Warn("unknown tool name in disabled_tools")
	}

	s := store.New(database, cfg, session.HeuristicMatcher{})
	br := bridge.NewServer(cfg, log)
	eng := engine.New(s, recording.NewRegistry(), cfg, br, log)
	br.SetHandler(eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := br.ListenAndServe(ctx); err != nil {
			log.Error("bridge stopped: ", err)
		}
	}()

	if err := mcp.Run(eng, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
