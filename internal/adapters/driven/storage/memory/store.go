// Package memory provides an in-memory document sink, used in tests and
// for dry runs where nothing should touch disk.
package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
	"github.com/custodia-labs/confluence-harvest/internal/core/ports/driven"
)

var _ driven.DocumentSink = (*Store)(nil)

type storedDoc struct {
	harvestID string
	doc       domain.Document
	content   string
}

// Store is an in-memory implementation of driven.DocumentSink. Later
// stores of the same document ID replace earlier ones, matching the
// upsert semantics of the sqlite sink.
type Store struct {
	mu   sync.RWMutex
	docs map[string]storedDoc
}

// NewStore creates an empty in-memory sink.
func NewStore() *Store {
	return &Store{docs: make(map[string]storedDoc)}
}

// Store persists a document under its ID.
func (s *Store) Store(_ context.Context, harvestID string, doc *domain.Document, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = storedDoc{harvestID: harvestID, doc: *doc.Clone(), content: content}
	return nil
}

// Count reports the number of stored documents.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.docs)), nil
}

// Get retrieves a stored document and its content by ID. It reports
// sql.ErrNoRows for unknown IDs, like the sqlite sink.
func (s *Store) Get(_ context.Context, id string) (*domain.Document, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.docs[id]
	if !ok {
		return nil, "", sql.ErrNoRows
	}
	return stored.doc.Clone(), stored.content, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
