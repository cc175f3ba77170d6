package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/custodia-labs/confluence-harvest/internal/connectors/confluence"
)

// appConfig is the full configuration of a CLI invocation: the connector
// settings plus where harvested documents land.
type appConfig struct {
	Confluence confluence.Config `mapstructure:",squash"`
	DataDir    string            `mapstructure:"data_dir"`
}

// loadConfig reads configuration from the given file (or the default
// location), with CONFLUENCE_HARVEST_* environment variables taking
// precedence over file values.
func loadConfig(path string) (*appConfig, error) {
	v := viper.New()

	v.SetDefault("deployment", string(confluence.DeploymentServer))
	v.SetDefault("spaces", []string{confluence.Wildcard})
	v.SetDefault("retry_count", confluence.DefaultRetryCount)
	v.SetDefault("max_concurrency", confluence.DefaultMaxConcurrency)
	v.SetDefault("queue_size", confluence.DefaultQueueSize)
	v.SetDefault("queue_mem_bytes", confluence.DefaultQueueMemBytes)
	v.SetDefault("file_size_limit", confluence.DefaultFileSizeLimit)
	v.SetDefault("use_document_level_security", false)
	v.SetDefault("data_dir", "")

	v.SetEnvPrefix("CONFLUENCE_HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".confluence-harvest"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// A missing default config file is fine; environment variables
		// may carry everything.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Confluence.ApplyDefaults()
	return &cfg, nil
}
