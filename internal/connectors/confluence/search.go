package confluence

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
)

const (
	entityTypeContent = "content"
	entityTypeSpace   = "space"
)

// SearchByQuery harvests whatever a CQL expression matches: spaces,
// pages, blog posts or attachments. Attachment results carry a lazy
// content fetch like regular attachment items. This is the data path for
// host-defined advanced sync rules; validating the rules themselves is
// the host's concern.
func (s *DataSource) SearchByQuery(ctx context.Context, cql string) (<-chan *domain.HarvestItem, <-chan error) {
	items := make(chan *domain.HarvestItem)
	errs := make(chan error, 1)

	go func() {
		defer close(items)
		defer close(errs)

		for raw := range s.client.Pages(ctx, s.client.searchURL(cql)) {
			var page SearchPage
			if err := json.Unmarshal(raw, &page); err != nil {
				s.log.Warn("malformed search page, ending search", zap.Error(err))
				return
			}

			for _, result := range page.Results {
				item := s.searchResultItem(result)
				if item == nil {
					continue
				}
				select {
				case items <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return items, errs
}

// searchResultItem normalizes one search result, or returns nil when the
// result cannot be indexed (orphaned attachments with no container).
func (s *DataSource) searchResultItem(result SearchResult) *domain.HarvestItem {
	entity := result.Space
	if entity == nil {
		entity = result.Content
	}
	if entity == nil {
		return nil
	}
	if entity.Type == string(domain.ItemTypeAttachment) && entity.Container.Title == "" {
		return nil
	}

	doc := &domain.Document{
		ID:           entity.ID.String(),
		Type:         domain.ItemType(result.EntityType),
		Title:        result.Title,
		Body:         result.Excerpt,
		URL:          s.client.resourceURL(result.URL),
		LastModified: s.parseTime(result.LastModified),
	}

	if result.EntityType != entityTypeContent {
		return &domain.HarvestItem{Document: doc}
	}

	doc.Type = domain.ItemType(entity.Type)
	doc.Space = entity.Space.Name

	if doc.Type != domain.ItemTypeAttachment {
		return &domain.HarvestItem{Document: doc}
	}

	// Attachment content is downloaded lazily, so the excerpt is dropped
	// in favour of the real content field.
	doc.Body = ""
	doc.Size = entity.Extensions.FileSize
	doc.ParentType = domain.ItemType(entity.Container.Type)
	doc.ParentTitle = entity.Container.Title

	return &domain.HarvestItem{
		Document: doc,
		Fetch:    s.newAttachmentFetch(entity.Links.Download, doc.Clone()),
	}
}
