package saferun

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/saferun-ai/saferun/retry"
)

const postgresURIScheme = "artifact://postgres/"

const postgresArtifactSchema = `
CREATE TABLE IF NOT EXISTS saferun_artifacts (
	uri        TEXT PRIMARY KEY,
	content    BYTEA NOT NULL,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresArtifactStore persists artifacts in a Postgres table. Inserts are
// idempotent because artifacts are keyed by content hash. Transient database
// errors are retried here, on the collaborator side, so the state machine
// only ever sees a definitive outcome.
type PostgresArtifactStore struct {
	db *sql.DB
}

// OpenPostgres opens a database handle using the lib/pq driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return db, nil
}

// NewPostgresArtifactStore creates the artifact table if needed and returns
// a store bound to the given database handle.
func NewPostgresArtifactStore(ctx context.Context, db *sql.DB) (*PostgresArtifactStore, error) {
	if _, err := db.ExecContext(ctx, postgresArtifactSchema); err != nil {
		return nil, fmt.Errorf("failed to create artifact table: %w", err)
	}
	return &PostgresArtifactStore{db: db}, nil
}

// CreateArtifact inserts the content keyed by its hash. Re-storing existing
// content succeeds and returns the same URI.
func (s *PostgresArtifactStore) CreateArtifact(ctx context.Context, content []byte, metadata map[string]string) (string, error) {
	sum := sha256.Sum256(content)
	uri := postgresURIScheme + hex.EncodeToString(sum[:])

	var metaJSON []byte
	if len(metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("failed to marshal artifact metadata: %w", err)
		}
	}

	err := retry.Do(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO saferun_artifacts (uri, content, metadata)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (uri) DO NOTHING`,
			uri, content, metaJSON)
		return classifyPostgresError(execErr)
	}, retry.WithMaxRetries(3))
	if err != nil {
		return "", fmt.Errorf("failed to insert artifact: %w", err)
	}
	return uri, nil
}

// GetArtifact retrieves content by URI.
func (s *PostgresArtifactStore) GetArtifact(ctx context.Context, uri string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM saferun_artifacts WHERE uri = $1`, uri).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Errorf(ErrKindNotFound, "artifact %s not found", uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact: %w", err)
	}
	return content, nil
}

// classifyPostgresError marks transient Postgres failures as recoverable so
// retry.Do will attempt them again, and leaves everything else alone.
func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		// Class 40: transaction rollback (serialization failures, deadlocks).
		// Class 08: connection exceptions. 53300: too many connections.
		if strings.HasPrefix(code, "40") || strings.HasPrefix(code, "08") || code == "53300" {
			return retry.NewRecoverableError(err)
		}
		return retry.NewNonRecoverableError(err)
	}
	return err
}
