// Package cli implements the confluence-harvest command line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/confluence-harvest/internal/logger"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "confluence-harvest",
	Short: "Harvest Confluence content into a local document index",
	Long: `confluence-harvest enumerates the spaces, pages, blog posts and
attachments of a Confluence instance and stores them as normalized
documents, optionally decorated with document-level access control.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.confluence-harvest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format (text, json)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() (logger.Logger, error) {
	log, err := logger.NewLogger(logFormat, logLevel)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return log, nil
}
