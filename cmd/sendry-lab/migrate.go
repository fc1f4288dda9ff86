package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-lab/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
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

	database, _, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Println("Migrations completed successfully")
	return nil
}
