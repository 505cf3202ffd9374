package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"todo-app/config"
	"todo-app/storage"
)

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the configured tables, queue or sqlite schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log.Info("storage init starting")

		switch cfg.Storage.Driver {
		case config.DriverTables:
			if err := storage.EnsureTables(ctx, cfg.Storage.ConnectionString, cfg.Storage.TodosTable); err != nil {
				return fmt.Errorf("create tables: %w", err)
			}
		case config.DriverSQLite:
			db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
			if err != nil {
				return fmt.Errorf("sqlite: %w", err)
			}
			db.Close()
		}
		if err := storage.EnsureQueues(ctx, cfg.Storage.ConnectionString, cfg.Storage.ChangeQueue); err != nil {
			return fmt.Errorf("create queues: %w", err)
		}

		log.Info("storage init complete")
		return nil
	},
}
