// Command transit-hubs unifies nearby transit stops into clusters and moves
// their dependent relationships onto one representative stop per cluster.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/transit-hubs/internal/config"
	"github.com/banshee-data/transit-hubs/internal/db"
	"github.com/banshee-data/transit-hubs/internal/monitoring"
)

// errUsage marks command-line mistakes; main exits 2 for them.
var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	case errors.Is(err, errUsage), errors.Is(err, db.ErrMigrateUsage):
		fmt.Fprintf(os.Stderr, "transit-hubs: %v\n", err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "transit-hubs: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags accepted before the subcommand.
type globals struct {
	configPath string
	dbPath     string
	backend    string
	verbose    bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("transit-hubs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globals
	fs.StringVar(&g.configPath, "config", "", "Configuration file (.json, .yaml or .yml)")
	fs.StringVar(&g.dbPath, "db", "", "SQLite database path (overrides store.sqlite_path)")
	fs.StringVar(&g.backend, "backend", "", "Store backend: sqlite, neo4j or memory (overrides store.backend)")
	fs.BoolVar(&g.verbose, "v", false, "Enable trace logging")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	logs := monitoring.LogWriters{Ops: stderr, Diag: stderr}
	if g.verbose {
		logs.Trace = stderr
	}
	monitoring.SetLogWriters(logs)

	if fs.NArg() == 0 {
		printUsage(stderr, fs)
		return usageErr("missing command")
	}
	name, rest := fs.Arg(0), fs.Args()[1:]

	switch name {
	case "help":
		printUsage(stdout, fs)
		return nil
	case "version":
		return cmdVersion(stdout)
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if name == "migrate" {
		if cfg.GetBackend() != config.BackendSQLite {
			return usageErr("migrate needs the sqlite backend, have %s", cfg.GetBackend())
		}
		return db.RunMigrateCommand(rest, cfg.GetSQLitePath(), stdout)
	}

	cmd, ok := commands[name]
	if !ok {
		printUsage(stderr, fs)
		return usageErr("unknown command %q", name)
	}
	a := &app{cfg: cfg, out: stdout, errOut: stderr}
	defer a.close()
	return cmd.run(ctx, a, rest)
}

// loadConfig reads -config when given and applies the flag overrides.
func loadConfig(g globals) (*config.Config, error) {
	cfg := config.Empty()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, err
		}
	}
	if g.dbPath != "" {
		cfg.Store.SQLitePath = &g.dbPath
	}
	if g.backend != "" {
		cfg.Store.Backend = &g.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageErr("%v", err)
	}
	return cfg, nil
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: transit-hubs [flags] <command> [args]\n\nCommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "  %-10s %s\n", "migrate", "Manage the SQLite schema (up, down, status, version N, force N)")
	fmt.Fprintf(w, "  %-10s %s\n", "version", "Print build information")
	fmt.Fprintf(w, "  %-10s %s\n", "help", "Show this help")
	fmt.Fprintf(w, "\nFlags:\n")
	out := fs.Output()
	fs.SetOutput(w)
	fs.PrintDefaults()
	fs.SetOutput(out)
}
