// Package cmd is mp4vfsd's command-line entry point.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "mp4vfsd",
	Short: "Serve virtual MP4 files assembled from recorded video segments",
}

// Execute runs the root command; main calls this and exits non-zero on
// error.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to mp4vfsd.yaml")
}
