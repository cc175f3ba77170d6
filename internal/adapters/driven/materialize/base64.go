// Package materialize encodes downloaded binary content into a
// representation the index can store.
package materialize

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/custodia-labs/confluence-harvest/internal/core/ports/driven"
	"github.com/custodia-labs/confluence-harvest/internal/logger"
)

// supportedExtensions lists the file types the text extraction backend
// can handle. Everything else is declined.
var supportedExtensions = map[string]struct{}{
	".txt":      {},
	".py":       {},
	".rst":      {},
	".html":     {},
	".markdown": {},
	".json":     {},
	".xml":      {},
	".csv":      {},
	".md":       {},
	".ppt":      {},
	".rtf":      {},
	".docx":     {},
	".odt":      {},
	".xls":      {},
	".xlsx":     {},
	".rb":       {},
	".paper":    {},
	".sh":       {},
	".pptx":     {},
	".pdf":      {},
	".doc":      {},
}

// Base64 materializes content as standard base64, declining unsupported
// file types and files over a configured byte ceiling.
type Base64 struct {
	maxBytes int64
	log      logger.Logger
}

var _ driven.Materializer = (*Base64)(nil)

// NewBase64 creates a materializer with the given per-file byte ceiling.
func NewBase64(maxBytes int64, log logger.Logger) *Base64 {
	return &Base64{maxBytes: maxBytes, log: log}
}

// Supports reports whether the file would be accepted: a supported
// extension and a declared size within the ceiling.
func (m *Base64) Supports(filename string, size int64) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := supportedExtensions[ext]; !ok {
		m.log.Debug("unsupported file type", zap.String("filename", filename), zap.String("extension", ext))
		return false
	}
	if size > m.maxBytes {
		m.log.Debug("file over size ceiling",
			zap.String("filename", filename),
			zap.Int64("size", size),
			zap.Int64("ceiling", m.maxBytes))
		return false
	}
	return true
}

// Materialize base64-encodes the stream. Reading stops at one byte past
// the ceiling so a stream whose real size exceeds its declared size
// cannot blow past the ceiling unnoticed; such a stream is an error, not a
// truncated success.
func (m *Base64) Materialize(_ context.Context, filename string, r io.Reader) (string, error) {
	var sb strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &sb)

	n, err := io.Copy(enc, io.LimitReader(r, m.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("materialize %s: %w", filename, err)
	}
	if n > m.maxBytes {
		return "", fmt.Errorf("materialize %s: content exceeds %d byte ceiling", filename, m.maxBytes)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("materialize %s: %w", filename, err)
	}
	return sb.String(), nil
}
