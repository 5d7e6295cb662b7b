package cli

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/mcscan/internal/db"
)

var (
	migrateStatus bool
	migrateReset  bool
	migrateForce  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations to the configured store. Other commands
migrate automatically; this command is for inspecting and resetting the schema.`,
	Example: `  mcscan migrate
  mcscan migrate --status
  mcscan migrate --reset --force`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "show migration status instead of migrating")
	migrateCmd.Flags().BoolVar(&migrateReset, "reset", false, "drop all tables and migrate from scratch")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "confirm --reset")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if migrateReset && !migrateForce {
		return fmt.Errorf("--reset deletes all stored data, pass --force to confirm")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	ctx := commandContext(cmd)

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer func() { _ = database.Close() }()

	migrator := db.NewMigrator(database)
	out := cmd.OutOrStdout()

	switch {
	case migrateStatus:
		statuses, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		return renderMigrations(out, statuses)
	case migrateReset:
		if err := migrator.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Database reset and migrated")
		return nil
	default:
		applied, err := migrator.Up(ctx)
		if err != nil {
			return err
		}
		if applied == 0 {
			fmt.Fprintln(out, "Database is up to date")
		} else {
			fmt.Fprintf(out, "Applied %d migration(s)\n", applied)
		}
		return nil
	}
}

func renderMigrations(out io.Writer, statuses []db.MigrationStatus) error {
	table := tablewriter.NewWriter(out)
	table.Header("Migration", "Applied", "Applied At", "Modified")
	for _, s := range statuses {
		applied := "no"
		if s.Applied {
			applied = "yes"
		}
		modified := ""
		if s.Modified {
			modified = "yes"
		}
		_ = table.Append([]string{s.Name, applied, s.AppliedAt, modified})
	}
	return table.Render()
}
