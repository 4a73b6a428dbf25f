// Package storage provides the record-of-truth Postgres repositories backing
// the indexing pipeline: advisory document locks, document metadata, access
// control entries, and document-set membership.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/lodestar-kb/lodestar/internal/indexing"
)

// Store wraps the record-of-truth Postgres connection.
type Store struct {
	db *sql.DB
}

// Config holds Postgres connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection. Used in tests.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens a document transaction. Advisory locks taken through it are
// held until Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (indexing.RecordTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &DocumentTx{tx: tx}, nil
}

var _ indexing.RecordStore = (*Store)(nil)

// DocumentTx scopes document locks and metadata writes to one transaction.
type DocumentTx struct {
	tx   *sql.Tx
	done bool
}

// LockDocuments acquires transaction-scoped advisory locks for the given
// document ids, in ascending id order so that concurrent pipelines locking
// overlapping batches cannot deadlock.
func (t *DocumentTx) LockDocuments(ctx context.Context, documentIDs []string) error {
	ids := make([]string, len(documentIDs))
	copy(ids, documentIDs)
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id,
		); err != nil {
			return fmt.Errorf("lock document %s: %w", id, err)
		}
	}
	return nil
}

// UpsertDocuments writes source-of-truth metadata for a batch of documents.
func (t *DocumentTx) UpsertDocuments(ctx context.Context, batch []indexing.DocumentMetadata) error {
	const query = `
		INSERT INTO documents
			(id, connector_id, credential_id, semantic_identifier, link,
			 primary_owners, secondary_owners, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			connector_id = EXCLUDED.connector_id,
			credential_id = EXCLUDED.credential_id,
			semantic_identifier = EXCLUDED.semantic_identifier,
			link = EXCLUDED.link,
			primary_owners = EXCLUDED.primary_owners,
			secondary_owners = EXCLUDED.secondary_owners,
			updated_at = NOW()
	`
	for _, m := range batch {
		if _, err := t.tx.ExecContext(ctx, query,
			m.DocumentID, m.ConnectorID, m.CredentialID, m.SemanticIdentifier,
			m.FirstLink, pq.Array(m.PrimaryOwners), pq.Array(m.SecondaryOwners),
		); err != nil {
			return fmt.Errorf("upsert document %s: %w", m.DocumentID, err)
		}
	}
	return nil
}

// AccessForDocuments returns the ACL entries for each document id. Documents
// marked public carry the public sentinel in addition to any explicit
// entries; documents with no row at all map to an empty list.
func (t *DocumentTx) AccessForDocuments(ctx context.Context, documentIDs []string) (map[string][]string, error) {
	access := make(map[string][]string, len(documentIDs))
	for _, id := range documentIDs {
		access[id] = nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT document_id, acl_entry
		FROM document_access
		WHERE document_id = ANY($1)
	`, pq.Array(documentIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch document access: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID, entry string
		if err := rows.Scan(&docID, &entry); err != nil {
			return nil, fmt.Errorf("scan document access: %w", err)
		}
		access[docID] = append(access[docID], entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document access: %w", err)
	}

	publicRows, err := t.tx.QueryContext(ctx, `
		SELECT id FROM documents
		WHERE id = ANY($1) AND is_public
	`, pq.Array(documentIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch public documents: %w", err)
	}
	defer publicRows.Close()

	for publicRows.Next() {
		var docID string
		if err := publicRows.Scan(&docID); err != nil {
			return nil, fmt.Errorf("scan public document: %w", err)
		}
		access[docID] = append(access[docID], indexing.ACLPublic)
	}
	if err := publicRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate public documents: %w", err)
	}

	return access, nil
}

// DocumentSetsForDocuments returns the document-set names each document
// belongs to. Documents with no membership map to an empty list.
func (t *DocumentTx) DocumentSetsForDocuments(ctx context.Context, documentIDs []string) (map[string][]string, error) {
	sets := make(map[string][]string, len(documentIDs))
	for _, id := range documentIDs {
		sets[id] = nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT m.document_id, s.name
		FROM document_set_membership m
		JOIN document_sets s ON s.id = m.document_set_id
		WHERE m.document_id = ANY($1)
	`, pq.Array(documentIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch document sets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID, name string
		if err := rows.Scan(&docID, &name); err != nil {
			return nil, fmt.Errorf("scan document set: %w", err)
		}
		sets[docID] = append(sets[docID], name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document sets: %w", err)
	}

	return sets, nil
}

// Commit commits the transaction, releasing advisory locks.
func (t *DocumentTx) Commit() error {
	t.done = true
	return t.tx.Commit()
}

// Rollback aborts the transaction, releasing advisory locks. Safe to call
// after Commit.
func (t *DocumentTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
