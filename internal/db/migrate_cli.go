package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// ErrMigrateUsage is returned for a missing or unknown migrate action.
var ErrMigrateUsage = errors.New("usage: transit-hubs migrate <up|down|status|version N|force N|help>")

// RunMigrateCommand handles the 'migrate' subcommand. Status output goes to
// out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrMigrateUsage
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}
	// The schema is left alone on open; migrations manage it.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
	case "status":
		return printMigrateStatus(out, database, migrations)
	case "version":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
	case "force":
		v, err := versionArg(args)
		if err != nil {
			return err
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			return err
		}
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrMigrateUsage
	}

	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func versionArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("%s requires a version number: %w", args[0], ErrMigrateUsage)
	}
	v, err := strconv.Atoi(args[1])
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version number %q", args[1])
	}
	return v, nil
}

func printMigrateStatus(out io.Writer, database *DB, migrations fs.FS) error {
	s, err := database.GetMigrationStatus(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", s.Current)
	fmt.Fprintf(out, "Latest version: %d\n", s.Latest)
	fmt.Fprintf(out, "Outstanding: %d\n", s.Outstanding)
	fmt.Fprintf(out, "Dirty: %v\n", s.Dirty)
	fmt.Fprintf(out, "Schema migrations table exists: %v\n", s.TableExists)
	if s.Dirty {
		fmt.Fprintln(out, "\nWARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, fix it, then run:")
		fmt.Fprintln(out, "  transit-hubs migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp prints the migrate subcommand usage.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: transit-hubs migrate <action> [args]

Actions:
  up           Apply all pending migrations
  down         Roll back the most recent migration
  status       Show current and latest schema versions
  version N    Migrate up or down to version N
  force N      Set the version without running migrations (recovery only)
  help         Show this help
`)
}
