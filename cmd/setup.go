package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/postmate/internal/shared"
)

// SetupConfig writes a config file populated with the embedded defaults.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)
	r.writePlain("✓ Config written to %s\n", path)
	return nil
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	if _, err := r.service(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	version, dirty, err := shared.MigrationVersion(r.db)
	if err != nil {
		return err
	}
	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	r.writePlain("✓ Database %s at schema version %d", r.config.Database.Path, version)
	if dirty {
		r.writePlain(" (dirty)")
	}
	r.writePlain("\n")
	return nil
}

// SetupRollback rolls the schema back by one migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	path := r.config.Database.Path
	db, err := shared.NewDatabase(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := shared.RollbackMigration(db); err != nil {
		return err
	}
	version, _, err := shared.MigrationVersion(db)
	if err != nil {
		return err
	}
	r.logger.Warn("migration rolled back", "path", path, "version", version)
	r.writePlain("✓ Database %s rolled back to schema version %d\n", path, version)
	return nil
}
