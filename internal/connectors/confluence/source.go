package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"go.uber.org/zap"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
	"github.com/custodia-labs/confluence-harvest/internal/core/ports/driven"
	"github.com/custodia-labs/confluence-harvest/internal/harvest"
	"github.com/custodia-labs/confluence-harvest/internal/logger"
)

// initialProducers is the number of producers submitted up front: one for
// spaces, one per content type. Attachment producers are added
// dynamically as content is discovered.
const initialProducers = 3

// DataSource harvests a Confluence instance into a stream of normalized
// documents.
type DataSource struct {
	cfg          *Config
	log          logger.Logger
	client       *Client
	materializer driven.Materializer

	// featureDLS is the host platform's document-level-security
	// capability. The connector's own toggle is gated by it.
	featureDLS atomic.Bool
}

// NewDataSource validates cfg and creates a data source. The materializer
// may be nil when attachment content is never fetched.
func NewDataSource(cfg *Config, materializer driven.Materializer, log logger.Logger) (*DataSource, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &DataSource{
		cfg:          cfg,
		log:          log,
		client:       NewClient(cfg, log),
		materializer: materializer,
	}
	s.featureDLS.Store(true)
	return s, nil
}

// SetDLSFeatureEnabled records whether the host platform supports
// document level security at all.
func (s *DataSource) SetDLSFeatureEnabled(enabled bool) {
	s.featureDLS.Store(enabled)
}

func (s *DataSource) dlsEnabled() bool {
	return s.featureDLS.Load() && s.cfg.UseDocumentLevelSecurity
}

// Ping verifies connectivity with the configured instance.
func (s *DataSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close releases the shared network session and cancels pending backoff
// sleeps. Call it only after the harvest has drained.
func (s *DataSource) Close() error {
	s.client.Close()
	return nil
}

// ValidateSpaces checks that every configured space key exists on the
// remote instance. A wildcard configuration needs no remote check.
// Unavailable keys are a configuration error, reported before any
// harvesting starts.
func (s *DataSource) ValidateSpaces(ctx context.Context) error {
	if s.cfg.wildcardSpaces() {
		return nil
	}

	available := map[string]struct{}{}
	for raw := range s.client.Pages(ctx, s.client.spacesURL()) {
		var page SpacesPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decode space listing: %w", err)
		}
		for _, space := range page.Results {
			available[space.Key] = struct{}{}
		}
	}

	var missing []string
	for _, key := range s.cfg.Spaces {
		if _, ok := available[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigError{
			Field: "spaces",
			Msg:   fmt.Sprintf("spaces %s are not available on the remote instance", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// Harvest enumerates all configured resources and streams them as
// harvest items. The item channel closes when the harvest is complete;
// the error channel then carries at most one fatal error (invariant
// violation or cancellation). Per-resource fetch failures never appear
// here: they are contained inside the producers, which simply emit fewer
// documents. Each call runs an independent harvest with its own queue
// and producer set.
func (s *DataSource) Harvest(ctx context.Context) (<-chan *domain.HarvestItem, <-chan error) {
	items := make(chan *domain.HarvestItem)
	errs := make(chan error, 1)

	h := &harvester{
		src:   s,
		queue: harvest.NewMemQueue(s.cfg.QueueSize, s.cfg.QueueMemBytes),
		pool:  harvest.NewTaskPool(s.cfg.MaxConcurrency, s.log),
	}

	go func() {
		defer close(items)
		defer close(errs)

		hctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := h.start(hctx); err != nil {
			errs <- err
			cancel()
			h.pool.Join()
			return
		}
		if err := h.drain(hctx, items); err != nil {
			errs <- err
			cancel()
			h.pool.Join()
			return
		}
		h.pool.Join()
	}()

	return items, errs
}

// harvester is the per-run state of one harvest: the bounded queue, the
// producer pool and the active-producer counter that drives completion
// detection.
type harvester struct {
	src   *DataSource
	queue *harvest.MemQueue
	pool  *harvest.TaskPool

	// producers counts active producer tasks. Incremented at submission
	// time, decremented only by the drain loop when it reads a sentinel.
	producers atomic.Int64
}

// start submits the space producer and one content producer per type.
// Each increment happens before the corresponding submission so the
// counter can never be observed at zero while work remains.
func (h *harvester) start(ctx context.Context) error {
	pageCQL, blogCQL := h.src.contentCQL()

	submissions := []struct {
		name string
		task harvest.Task
	}{
		{"spaces", h.spaceProducer},
		{"pages", func(ctx context.Context) error {
			return h.contentProducer(ctx, pageCQL, domain.ItemTypePage)
		}},
		{"blogposts", func(ctx context.Context) error {
			return h.contentProducer(ctx, blogCQL, domain.ItemTypeBlogpost)
		}},
	}

	for _, sub := range submissions {
		h.producers.Add(1)
		if err := h.pool.Submit(ctx, sub.name, sub.task); err != nil {
			h.producers.Add(-1)
			return err
		}
	}
	return nil
}

// contentCQL builds the content search expressions for pages and blog
// posts, scoped to the configured spaces unless wildcarded.
func (s *DataSource) contentCQL() (pageCQL, blogCQL string) {
	if s.cfg.wildcardSpaces() {
		return "type=page", "type=blogpost"
	}
	quoted := make([]string, len(s.cfg.Spaces))
	for i, key := range s.cfg.Spaces {
		quoted[i] = "'" + key + "'"
	}
	scope := fmt.Sprintf("space in (%s) AND ", strings.Join(quoted, ","))
	return scope + "type=page", scope + "type=blogpost"
}

// finish enqueues the producer's completion sentinel. Producers call it
// exactly once, deferred, so the sentinel goes out on every exit path:
// success, zero items, or a contained fetch failure.
func (h *harvester) finish(ctx context.Context, producer string) {
	if err := h.queue.Put(ctx, harvest.Sentinel{}); err != nil {
		// Only possible when the whole harvest is being torn down, in
		// which case the drain loop is no longer counting.
		h.src.log.Debug("completion marker dropped during shutdown",
			zap.String("producer", producer),
			zap.Error(err))
	}
}

// spaceProducer enumerates spaces, decorating each with its space-level
// read permissions.
func (h *harvester) spaceProducer(ctx context.Context) error {
	defer h.finish(ctx, "spaces")

	for raw := range h.src.client.Pages(ctx, h.src.client.spacesURL()) {
		var page SpacesPage
		if err := json.Unmarshal(raw, &page); err != nil {
			h.src.log.Warn("malformed space page, ending space enumeration", zap.Error(err))
			return nil
		}

		for _, space := range page.Results {
			if !h.src.cfg.wantsSpace(space.Key) {
				continue
			}
			doc := &domain.Document{
				ID:           space.ID.String(),
				Type:         domain.ItemTypeSpace,
				Title:        space.Name,
				URL:          h.src.client.resourceURL(space.Links.WebUI),
				LastModified: time.Now().UTC(),
			}
			accessControl := h.src.accessControlFromPermissions(space.Permissions, domain.ItemTypeSpace).sorted()
			h.src.decorateWithAccessControl(doc, accessControl)

			if err := h.queue.Put(ctx, &domain.HarvestItem{Document: doc}); err != nil {
				return err
			}
		}
	}
	return nil
}

// contentProducer enumerates pages or blog posts. For every document that
// owns attachments it submits an attachment producer, incrementing the
// active-producer counter before the submission so the counter cannot hit
// zero while that producer's sentinel is still pending.
func (h *harvester) contentProducer(ctx context.Context, cql string, targetType domain.ItemType) error {
	defer h.finish(ctx, string(targetType))

	for raw := range h.src.client.Pages(ctx, h.src.client.contentSearchURL(cql)) {
		var page ContentPage
		if err := json.Unmarshal(raw, &page); err != nil {
			h.src.log.Warn("malformed content page, ending enumeration",
				zap.String("type", string(targetType)),
				zap.Error(err))
			return nil
		}

		for _, content := range page.Results {
			doc := &domain.Document{
				ID:           content.ID.String(),
				Type:         domain.ItemType(content.Type),
				Title:        content.Title,
				Space:        content.Space.Name,
				Body:         h.src.normalizeBody(content.Body.Storage.Value),
				URL:          h.src.client.resourceURL(content.Links.WebUI),
				LastModified: h.src.parseTime(content.History.LastUpdated.When),
			}
			accessControl := h.src.resolveAccessControl(
				content.Restrictions.Read.Restrictions,
				content.Space.Permissions,
				targetType,
			)
			h.src.decorateWithAccessControl(doc, accessControl)

			if err := h.queue.Put(ctx, &domain.HarvestItem{Document: doc}); err != nil {
				return err
			}

			if content.Children.Attachment.Size > 0 {
				parent := doc.Clone()
				h.producers.Add(1)
				err := h.pool.Submit(ctx, "attachments:"+parent.ID, func(ctx context.Context) error {
					return h.attachmentProducer(ctx, parent, accessControl)
				})
				if err != nil {
					h.producers.Add(-1)
					return err
				}
			}
		}
	}
	return nil
}

// attachmentProducer enumerates the attachments of one page or blog post.
// Attachments inherit their parent's resolved access control. Each item
// carries a lazy fetch bound to a copy of the document, so the emitted
// document and the captured one never alias.
func (h *harvester) attachmentProducer(ctx context.Context, parent *domain.Document, accessControl []string) error {
	defer h.finish(ctx, "attachments:"+parent.ID)

	for raw := range h.src.client.Pages(ctx, h.src.client.attachmentsURL(parent.ID)) {
		var page AttachmentsPage
		if err := json.Unmarshal(raw, &page); err != nil {
			h.src.log.Warn("malformed attachment page, ending enumeration",
				zap.String("content_id", parent.ID),
				zap.Error(err))
			return nil
		}

		for _, attachment := range page.Results {
			doc := &domain.Document{
				ID:           attachment.ID.String(),
				Type:         domain.ItemTypeAttachment,
				Title:        attachment.Title,
				Space:        parent.Space,
				ParentType:   parent.Type,
				ParentTitle:  parent.Title,
				Size:         attachment.Extensions.FileSize,
				URL:          h.src.client.resourceURL(attachment.Links.WebUI),
				LastModified: h.src.parseTime(attachment.Version.When),
			}
			h.src.decorateWithAccessControl(doc, accessControl)

			item := &domain.HarvestItem{
				Document: doc,
				Fetch:    h.src.newAttachmentFetch(attachment.Links.Download, doc.Clone()),
			}
			if err := h.queue.Put(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// drain is the single consumer of the harvest queue. It forwards
// documents downstream and decrements the active-producer counter per
// sentinel, terminating exactly when the counter reaches zero. Because
// each producer enqueues its own items before its own sentinel, every
// item is observed before the count can reach zero; a negative count is
// a defect and aborts the harvest.
func (h *harvester) drain(ctx context.Context, out chan<- *domain.HarvestItem) error {
	for h.producers.Load() > 0 {
		queued, err := h.queue.Get(ctx)
		if err != nil {
			return err
		}

		switch item := queued.(type) {
		case harvest.Sentinel:
			if err := h.producerDone(); err != nil {
				return err
			}
		case *domain.HarvestItem:
			select {
			case out <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return fmt.Errorf("confluence: unexpected queue item of type %T", queued)
		}
	}
	return nil
}

// producerDone records one producer's completion marker. The counter
// going negative means a sentinel arrived for a producer that was never
// registered, a bookkeeping defect that aborts the harvest rather than
// being swallowed.
func (h *harvester) producerDone() error {
	if h.producers.Add(-1) < 0 {
		return ErrProducerCountNegative
	}
	return nil
}

// normalizeBody converts Confluence storage-format HTML into markdown
// text for indexing. The raw HTML is kept when conversion fails.
func (s *DataSource) normalizeBody(storageHTML string) string {
	if storageHTML == "" {
		return ""
	}
	markdown, err := htmltomarkdown.ConvertString(storageHTML)
	if err != nil {
		s.log.Debug("body conversion failed, keeping raw storage format", zap.Error(err))
		return storageHTML
	}
	return markdown
}

// parseTime parses a Confluence timestamp. Unparseable values collapse to
// the zero time rather than failing the document.
func (s *DataSource) parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		s.log.Debug("unparseable timestamp", zap.String("value", value), zap.Error(err))
		return time.Time{}
	}
	return ts
}
