package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/gocode/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(d *db.DB) error {
			if err := d.Migrate(); err != nil {
				return err
			}
			version, dirty, err := d.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d (dirty=%v)\n", version, dirty)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(d *db.DB) error {
			return d.MigrateDown(1)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(d *db.DB) error {
			version, dirty, err := d.SchemaVersion()
			if err != nil {
				return err
			}
			if dirty {
				fmt.Printf("%d (dirty)\n", version)
			} else {
				fmt.Println(version)
			}
			return nil
		})
	},
}

var importLegacyCmd = &cobra.Command{
	Use:   "import-legacy <dir>",
	Short: "Import the old per-file JSON storage layout into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(d *db.DB) error {
			if err := d.Migrate(); err != nil {
				return err
			}
			stats, err := d.ImportLegacy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("imported %d records (%d sessions, %d messages, %d parts)\n",
				stats.Total(), stats.Sessions, stats.Messages, stats.Parts)
			for _, e := range stats.Errors {
				fmt.Println("skipped:", e)
			}
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd, importLegacyCmd)
}

// withDB opens the configured database without the rest of the runtime.
func withDB(fn func(*db.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}
