package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/pageforge/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the content store schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Opening a store runs its migrations
	stores, err := app.OpenStores(cfg.Store)
	if err != nil {
		return err
	}
	defer stores.Close()

	fmt.Printf("Migrations completed successfully (%s)\n", cfg.Store.Driver)
	return nil
}
