package driven

import (
	"context"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
)

// DocumentSink receives harvested documents for persistence. It stands in
// for the host indexing pipeline at the downstream end of a harvest.
type DocumentSink interface {
	// Store persists a document. content is the materialized attachment
	// content, empty when the document has none.
	Store(ctx context.Context, harvestID string, doc *domain.Document, content string) error

	// Count reports the number of stored documents.
	Count(ctx context.Context) (int64, error)

	// Close releases the sink's resources.
	Close() error
}
