package domain

import (
	"context"
	"time"
)

// ItemType classifies a harvested document.
type ItemType string

const (
	ItemTypeSpace      ItemType = "space"
	ItemTypePage       ItemType = "page"
	ItemTypeBlogpost   ItemType = "blogpost"
	ItemTypeAttachment ItemType = "attachment"
)

// Document is the normalized representation of a harvested resource.
// It is created by a producer at enumeration time and never mutated after
// it has been handed to the harvest queue; anything that needs to hold on
// to one past that point must take a Clone.
type Document struct {
	// ID is the stable identifier assigned by the remote system.
	ID string

	// Type is the resource class tag.
	Type ItemType

	// Title is the human-readable title.
	Title string

	// Space is the name of the containing space. Empty for space
	// documents themselves.
	Space string

	// Body is the normalized text content. Empty for attachments, whose
	// content is retrieved lazily.
	Body string

	// URL is the web location of the resource.
	URL string

	// ParentType and ParentTitle link an attachment to its owning page
	// or blog post.
	ParentType  ItemType
	ParentTitle string

	// Size is the declared byte size of an attachment.
	Size int64

	// LastModified is the remote last-modified timestamp.
	LastModified time.Time

	// AccessControl lists the identity tokens permitted to read the
	// document. Empty when document level security is disabled.
	AccessControl []string
}

// Clone returns a deep copy of the document. Producers clone before
// sharing a document across closures so the emitted document and the one
// captured by its lazy fetcher never alias.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := *d
	clone.AccessControl = append([]string(nil), d.AccessControl...)
	return &clone
}

// EstimatedBytes estimates the in-memory payload size of the document for
// queue memory accounting. It only needs to be proportional, not exact.
func (d *Document) EstimatedBytes() int {
	const structOverhead = 128
	return structOverheadPlusStrings(d, structOverhead)
}

func structOverheadPlusStrings(d *Document, overhead int) int {
	n := overhead
	n += len(d.ID) + len(d.Title) + len(d.Space) + len(d.Body) + len(d.URL) + len(d.ParentTitle)
	for _, ac := range d.AccessControl {
		n += len(ac)
	}
	return n
}

// Content is the materialized body of an attachment, produced on demand
// by a harvest item's lazy fetch.
type Content struct {
	// ID matches the attachment document's ID.
	ID string

	// LastModified matches the attachment document's timestamp.
	LastModified time.Time

	// Data is the encoded content, ready for indexing.
	Data string
}

// FetchFunc lazily retrieves the full content for a document. It returns
// (nil, nil) when the content was declined, for example an unsupported
// file type or a size over the configured ceiling; the document is still
// indexed without a content field.
type FetchFunc func(ctx context.Context) (*Content, error)

// HarvestItem pairs a normalized document with an optional lazy content
// fetch. The downstream consumer invokes Fetch only when it actually
// needs full content.
type HarvestItem struct {
	Document *Document

	// Fetch is nil for documents with no deferred content.
	Fetch FetchFunc
}

// EstimatedBytes reports the document's estimated size for queue memory
// accounting.
func (i *HarvestItem) EstimatedBytes() int {
	return i.Document.EstimatedBytes()
}
