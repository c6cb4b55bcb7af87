package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/database"
	"github.com/OV3RLORDS-MODS/Modix-Game-Panel/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setupLogging(cfg); err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		defer logging.Close()

		log.Println("Running database migrations...")
		db, err := database.NewDB(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		versions, err := db.AppliedVersions()
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		log.Println("Migrations completed successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
