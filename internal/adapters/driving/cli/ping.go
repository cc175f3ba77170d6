package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/confluence-harvest/internal/connectors/confluence"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify connectivity with the configured Confluence instance",
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	source, err := confluence.NewDataSource(&cfg.Confluence, nil, log)
	if err != nil {
		return err
	}
	defer source.Close()

	if err := source.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	cmd.Printf("Successfully connected to %s\n", cfg.Confluence.BaseURL)
	return nil
}
