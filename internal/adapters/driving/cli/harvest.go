package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/confluence-harvest/internal/adapters/driven/materialize"
	"github.com/custodia-labs/confluence-harvest/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/confluence-harvest/internal/connectors/confluence"
	"github.com/custodia-labs/confluence-harvest/internal/core/ports/driven"
	"github.com/custodia-labs/confluence-harvest/internal/logger"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest all configured spaces into the local store",
	RunE:  runHarvest,
}

var fetchContent bool

func init() {
	harvestCmd.Flags().BoolVar(&fetchContent, "fetch-content", true, "download and materialize attachment content")
	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	materializer := materialize.NewBase64(cfg.Confluence.FileSizeLimit, log)
	source, err := confluence.NewDataSource(&cfg.Confluence, materializer, log)
	if err != nil {
		return err
	}
	defer source.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := source.ValidateSpaces(ctx); err != nil {
		return err
	}

	harvestID := uuid.NewString()
	log = log.With(zap.String("harvest_id", harvestID))
	log.Info("starting harvest")

	stored, withContent, err := consume(ctx, source, store, harvestID, log)
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}

	log.Info("harvest complete",
		zap.Int("documents", stored),
		zap.Int("with_content", withContent))
	cmd.Printf("Harvested %d documents (%d with content) into %s\n", stored, withContent, store.Path())
	return nil
}

// consume drains the harvest stream into the store, invoking each item's
// lazy fetch when content downloads are enabled. Per-item fetch or store
// failures are logged and skipped; only pipeline-level errors abort.
func consume(
	ctx context.Context,
	source *confluence.DataSource,
	store driven.DocumentSink,
	harvestID string,
	log logger.Logger,
) (stored, withContent int, err error) {
	items, errs := source.Harvest(ctx)

	for item := range items {
		content := ""
		if fetchContent && item.Fetch != nil {
			fetched, fetchErr := item.Fetch(ctx)
			switch {
			case fetchErr != nil:
				log.Warn("attachment content fetch failed",
					zap.String("id", item.Document.ID),
					zap.Error(fetchErr))
			case fetched != nil:
				content = fetched.Data
				withContent++
			}
		}

		if storeErr := store.Store(ctx, harvestID, item.Document, content); storeErr != nil {
			log.Warn("failed to store document",
				zap.String("id", item.Document.ID),
				zap.Error(storeErr))
			continue
		}
		stored++
	}

	if err := <-errs; err != nil {
		return stored, withContent, err
	}
	return stored, withContent, nil
}
