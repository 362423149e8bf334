package cmd

import (
	"fmt"

	"github.com/javi11/mp4vfsd/internal/config"
	"github.com/javi11/mp4vfsd/internal/recdb"
	"github.com/spf13/cobra"
)

func init() {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending recording catalog migrations and exit",
		RunE:  runMigrate,
	}
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configFile, err)
	}

	db, err := recdb.Open(cfg.RecordingDBPath)
	if err != nil {
		return fmt.Errorf("opening recording database: %w", err)
	}
	defer db.Close()

	fmt.Println("recording catalog migrations applied")
	return nil
}
