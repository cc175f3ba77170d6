package confluence

import (
	"context"

	"go.uber.org/zap"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
)

// newAttachmentFetch builds the lazy content fetch for an attachment.
// doc must be a private copy; the closure holds it until the downstream
// consumer decides whether to invoke the fetch at all.
func (s *DataSource) newAttachmentFetch(downloadPath string, doc *domain.Document) domain.FetchFunc {
	return func(ctx context.Context) (*domain.Content, error) {
		return s.downloadAttachment(ctx, downloadPath, doc)
	}
}

// downloadAttachment retrieves and materializes an attachment's content.
// Empty, oversized and unsupported files are declined, not failed: the
// attachment document has already been emitted and is indexed without a
// content field.
func (s *DataSource) downloadAttachment(ctx context.Context, downloadPath string, doc *domain.Document) (*domain.Content, error) {
	if doc.Size == 0 || s.materializer == nil {
		return nil, nil
	}
	if !s.materializer.Supports(doc.Title, doc.Size) {
		s.log.Warn("discarding attachment content",
			zap.String("title", doc.Title),
			zap.Int64("size", doc.Size))
		return nil, nil
	}

	s.log.Debug("downloading attachment",
		zap.String("title", doc.Title),
		zap.Int64("size", doc.Size))

	resp, err := s.client.Get(ctx, s.client.resourceURL(downloadPath))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := s.materializer.Materialize(ctx, doc.Title, resp.Body)
	if err != nil {
		return nil, err
	}

	return &domain.Content{
		ID:           doc.ID,
		LastModified: doc.LastModified,
		Data:         data,
	}, nil
}
