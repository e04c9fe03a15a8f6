package cmd

import (
	"fmt"

	"autoclick_go/internal/config"
	"autoclick_go/pkg/storage"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Backend != config.BackendPostgres {
				return fmt.Errorf("migrations apply only to the postgres backend, current: %s", cfg.Storage.Backend)
			}
			return storage.RunMigrations(cfg.Storage.DSN)
		},
	}
}
