package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/manualqa/manualqa/internal/models"
	"github.com/manualqa/manualqa/internal/types"
)

var _ types.VectorStore = (*PgStore)(nil)

// PgConfig configures a Postgres/pgvector backed store.
type PgConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	ModelID    string
}

// PgStore persists index entries in Postgres with the pgvector
// extension. Used for shared deployments; the embedded FileStore
// covers single-host setups and tests.
type PgStore struct {
	config PgConfig
	pool   *pgxpool.Pool
}

func NewPgStore(ctx context.Context, config PgConfig) (*PgStore, error) {
	if config.TableName == "" {
		config.TableName = "passages"
	}
	if config.VectorDim < 1 {
		return nil, fmt.Errorf("vector dimension is required")
	}
	if config.ModelID == "" {
		return nil, fmt.Errorf("embedding model id is required")
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PgStore{config: config, pool: pool}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgStore) initialize(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			source_path TEXT NOT NULL,
			heading_path TEXT,
			car_model TEXT,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_off INTEGER NOT NULL,
			end_off INTEGER NOT NULL,
			seq BIGSERIAL,
			embedding vector(%d)
		)`, s.config.TableName, s.config.VectorDim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		s.config.TableName, s.config.TableName)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	createDocIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`,
		s.config.TableName, s.config.TableName)
	if _, err := s.pool.Exec(ctx, createDocIndex); err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}

	createDigests := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_digests (
			document_id TEXT PRIMARY KEY,
			digest TEXT NOT NULL
		)`, s.config.TableName)
	if _, err := s.pool.Exec(ctx, createDigests); err != nil {
		return fmt.Errorf("failed to create digest table: %w", err)
	}
	return nil
}

func (s *PgStore) upsertStmt() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, document_id, source_path, heading_path, car_model, ordinal, content, start_off, end_off, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			source_path = EXCLUDED.source_path,
			heading_path = EXCLUDED.heading_path,
			car_model = EXCLUDED.car_model,
			ordinal = EXCLUDED.ordinal,
			content = EXCLUDED.content,
			start_off = EXCLUDED.start_off,
			end_off = EXCLUDED.end_off,
			embedding = EXCLUDED.embedding`,
		s.config.TableName)
}

func (s *PgStore) checkDims(entries []models.IndexEntry) error {
	for _, e := range entries {
		if len(e.Vector) != s.config.VectorDim {
			return &models.DimensionMismatchError{Want: s.config.VectorDim, Got: len(e.Vector)}
		}
	}
	return nil
}

func (s *PgStore) upsertTx(ctx context.Context, tx pgx.Tx, entries []models.IndexEntry) error {
	stmt := s.upsertStmt()
	for _, e := range entries {
		p := e.Passage
		_, err := tx.Exec(ctx, stmt,
			p.ID, p.DocumentID, p.SourcePath, p.HeadingPath, p.Model,
			p.Ordinal, p.Text, p.Start, p.End,
			pgvector.NewVector(e.Vector),
		)
		if err != nil {
			return fmt.Errorf("failed to insert passage %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *PgStore) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	if err := s.checkDims(entries); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.upsertTx(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) DeleteByDocument(ctx context.Context, documentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.deleteDocumentTx(ctx, tx, documentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) deleteDocumentTx(ctx context.Context, tx pgx.Tx, documentID string) error {
	del := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", s.config.TableName)
	if _, err := tx.Exec(ctx, del, documentID); err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	delDigest := fmt.Sprintf("DELETE FROM %s_digests WHERE document_id = $1", s.config.TableName)
	if _, err := tx.Exec(ctx, delDigest, documentID); err != nil {
		return fmt.Errorf("failed to delete digest: %w", err)
	}
	return nil
}

// ReplaceDocument swaps a document's entries in a single transaction,
// so concurrent readers see the old or the new passages, never a mix.
func (s *PgStore) ReplaceDocument(ctx context.Context, documentID, digest string, entries []models.IndexEntry) error {
	if err := s.checkDims(entries); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.deleteDocumentTx(ctx, tx, documentID); err != nil {
		return err
	}
	if err := s.upsertTx(ctx, tx, entries); err != nil {
		return err
	}
	setDigest := fmt.Sprintf(`
		INSERT INTO %s_digests (document_id, digest) VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET digest = EXCLUDED.digest`,
		s.config.TableName)
	if _, err := tx.Exec(ctx, setDigest, documentID, digest); err != nil {
		return fmt.Errorf("failed to record digest: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PgStore) Query(ctx context.Context, vector []float32, k int) ([]models.Hit, error) {
	if k <= 0 {
		return nil, models.ErrInvalidTopK
	}
	if len(vector) != s.config.VectorDim {
		return nil, &models.DimensionMismatchError{Want: s.config.VectorDim, Got: len(vector)}
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, source_path, heading_path, car_model, ordinal, content, start_off, end_off,
			1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1 ASC, seq ASC
		LIMIT $2`,
		s.config.TableName)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var hits []models.Hit
	for rows.Next() {
		var p models.Passage
		var score float64
		err := rows.Scan(&p.ID, &p.DocumentID, &p.SourcePath, &p.HeadingPath, &p.Model,
			&p.Ordinal, &p.Text, &p.Start, &p.End, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hits = append(hits, models.Hit{Passage: p, Score: float32(score)})
	}
	return hits, rows.Err()
}

func (s *PgStore) DocumentDigest(ctx context.Context, documentID string) (string, error) {
	query := fmt.Sprintf("SELECT digest FROM %s_digests WHERE document_id = $1", s.config.TableName)
	var digest string
	err := s.pool.QueryRow(ctx, query, documentID).Scan(&digest)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read digest: %w", err)
	}
	return digest, nil
}

func (s *PgStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
