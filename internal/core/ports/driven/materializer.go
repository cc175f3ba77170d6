package driven

import (
	"context"
	"io"
)

// Materializer turns a downloaded byte stream into an encoded
// representation suitable for indexing.
type Materializer interface {
	// Supports reports whether content with the given file name and
	// declared size would be accepted. A false return is a decline, not
	// an error: the caller indexes the document without a content field.
	Supports(filename string, size int64) bool

	// Materialize reads the stream and returns the encoded content.
	Materialize(ctx context.Context, filename string, r io.Reader) (string, error)
}
