package cmd

import (
	"fmt"
	"log/slog"

	"github.com/javi11/mp4vfsd/internal/config"
	"github.com/javi11/mp4vfsd/internal/filestore"
	"github.com/javi11/mp4vfsd/internal/httpserve"
	"github.com/javi11/mp4vfsd/internal/logging"
	"github.com/javi11/mp4vfsd/internal/recdb"
	"github.com/javi11/mp4vfsd/internal/service"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MP4 range server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configFile, err)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	db, err := recdb.Open(cfg.RecordingDBPath)
	if err != nil {
		return fmt.Errorf("opening recording database: %w", err)
	}
	defer db.Close()

	store := recdb.NewStore(db)
	dir := filestore.New(afero.NewOsFs(), cfg.SampleFileDir)
	resolver := service.New(store, dir)

	srv := httpserve.New(resolver, cfg.Streaming.MaxRangeBytes)

	slog.Info("starting mp4vfsd", "listen_addr", cfg.ListenAddr)
	return srv.Listen(cfg.ListenAddr)
}
