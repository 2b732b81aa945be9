package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return oops.Code("CONFIG_INVALID").With("store", cfg.Store).Errorf("migrate requires the postgres store")
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database-url is required")
	}

	ctx := cmd.Context()

	cmd.Println("Connecting to database...")
	db, err := database.Connect(ctx, cfg.Database())
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	cmd.Println("Running migrations...")
	if err := database.Migrate(ctx, db); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
