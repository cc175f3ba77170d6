// Package sqlite persists harvested documents locally. It stands in for
// the host indexing pipeline at the downstream end of a harvest.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/confluence-harvest/internal/core/domain"
	"github.com/custodia-labs/confluence-harvest/internal/core/ports/driven"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	harvest_id     TEXT NOT NULL,
	type           TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	space          TEXT NOT NULL DEFAULT '',
	parent_type    TEXT NOT NULL DEFAULT '',
	parent_title   TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	body           TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	size           INTEGER NOT NULL DEFAULT 0,
	access_control TEXT NOT NULL DEFAULT '[]',
	last_modified  TEXT NOT NULL DEFAULT '',
	stored_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_harvest ON documents(harvest_id);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type);
`

// Store is a SQLite-backed document sink.
type Store struct {
	db   *sql.DB
	path string
}

var _ driven.DocumentSink = (*Store)(nil)

// NewStore creates a store under dataDir, defaulting to
// ~/.confluence-harvest/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".confluence-harvest", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "harvest.db")

	// WAL keeps concurrent readers cheap while a harvest is writing.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Store upserts a harvested document.
func (s *Store) Store(ctx context.Context, harvestID string, doc *domain.Document, content string) error {
	accessControl, err := json.Marshal(doc.AccessControl)
	if err != nil {
		return fmt.Errorf("marshalling access control: %w", err)
	}

	lastModified := ""
	if !doc.LastModified.IsZero() {
		lastModified = doc.LastModified.UTC().Format(time.RFC3339)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, harvest_id, type, title, space, parent_type, parent_title,
			 url, body, content, size, access_control, last_modified, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			harvest_id = excluded.harvest_id,
			type = excluded.type,
			title = excluded.title,
			space = excluded.space,
			parent_type = excluded.parent_type,
			parent_title = excluded.parent_title,
			url = excluded.url,
			body = excluded.body,
			content = excluded.content,
			size = excluded.size,
			access_control = excluded.access_control,
			last_modified = excluded.last_modified,
			stored_at = excluded.stored_at`,
		doc.ID, harvestID, string(doc.Type), doc.Title, doc.Space,
		string(doc.ParentType), doc.ParentTitle, doc.URL, doc.Body, content,
		doc.Size, string(accessControl), lastModified,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing document %s: %w", doc.ID, err)
	}
	return nil
}

// Count reports the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// Get retrieves a stored document by ID, along with its materialized
// content. Returns sql.ErrNoRows when absent.
func (s *Store) Get(ctx context.Context, id string) (*domain.Document, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, title, space, parent_type, parent_title, url,
		       body, content, size, access_control, last_modified
		FROM documents WHERE id = ?`, id)

	var doc domain.Document
	var docType, parentType, accessControl, lastModified, content string
	err := row.Scan(&doc.ID, &docType, &doc.Title, &doc.Space, &parentType,
		&doc.ParentTitle, &doc.URL, &doc.Body, &content, &doc.Size,
		&accessControl, &lastModified)
	if err != nil {
		return nil, "", err
	}

	doc.Type = domain.ItemType(docType)
	doc.ParentType = domain.ItemType(parentType)
	if err := json.Unmarshal([]byte(accessControl), &doc.AccessControl); err != nil {
		return nil, "", fmt.Errorf("unmarshalling access control: %w", err)
	}
	if lastModified != "" {
		ts, err := time.Parse(time.RFC3339, lastModified)
		if err != nil {
			return nil, "", fmt.Errorf("parsing last modified: %w", err)
		}
		doc.LastModified = ts
	}
	return &doc, content, nil
}
