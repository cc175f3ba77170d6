package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/confluence-harvest/internal/connectors/confluence"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration, including configured space keys",
	Long: `Validates the local configuration and checks that every configured
space key exists on the remote instance.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
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

	if err := source.ValidateSpaces(cmd.Context()); err != nil {
		return err
	}

	cmd.Println("Configuration is valid.")
	return nil
}
