package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		down, _ := cmd.Flags().GetBool("down")
		versionOnly, _ := cmd.Flags().GetBool("version")

		dsn := cfg.Store.DatabaseURL
		if cfg.Store.Driver == "sqlite" {
			dsn = cfg.Store.SQLitePath
		}
		if dsn == "" {
			return eris.Errorf("migrate: no database configured for driver %s", cfg.Store.Driver)
		}

		mg, err := db.NewMigrator(cfg.Store.Driver, dsn)
		if err != nil {
			return err
		}
		defer mg.Close() //nolint:errcheck

		switch {
		case versionOnly:
		case down:
			if err := mg.Down(); err != nil {
				return err
			}
		default:
			if err := mg.Up(); err != nil {
				return err
			}
		}

		version, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		zap.L().Info("migrate: schema version",
			zap.String("driver", cfg.Store.Driver),
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)
		return printJSON(map[string]any{"driver": cfg.Store.Driver, "version": version, "dirty": dirty})
	},
}

func init() {
	migrateCmd.Flags().Bool("down", false, "roll back every migration")
	migrateCmd.Flags().Bool("version", false, "print the schema version without migrating")
	rootCmd.AddCommand(migrateCmd)
}
