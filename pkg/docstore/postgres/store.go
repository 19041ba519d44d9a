package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Radicalscale/virevo/pkg/docstore"
)

// Store is the PostgreSQL-backed implementation of docstore.Store.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn
// and runs Migrate to ensure the agents, api_keys, and knowledge_base tables
// exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// GetAgent implements docstore.Store.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*docstore.AgentRecord, error) {
	const q = `
		SELECT id, user_id, name, agent_type, system_prompt, settings, call_flow,
		       has_knowledge_base, updated_at
		FROM   agents
		WHERE  id = $1`

	var (
		rec          docstore.AgentRecord
		settingsJSON []byte
		flowJSON     []byte
	)
	row := s.pool.QueryRow(ctx, q, agentID)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.AgentType, &rec.SystemPrompt,
		&settingsJSON, &flowJSON, &rec.HasKnowledgeBase, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore postgres: get agent: %w", err)
	}

	if err := json.Unmarshal(settingsJSON, &rec.Settings); err != nil {
		return nil, fmt.Errorf("docstore postgres: unmarshal agent settings: %w", err)
	}
	rec.CallFlow = flowJSON
	return &rec, nil
}

// ListAPIKeys implements docstore.Store.
func (s *Store) ListAPIKeys(ctx context.Context, userID, serviceName string) ([]docstore.APIKeyRecord, error) {
	const q = `
		SELECT id, user_id, service_name, encrypted_key, is_active, COALESCE(last_used_at, now())
		FROM   api_keys
		WHERE  user_id = $1 AND service_name = $2 AND is_active = true`

	rows, err := s.pool.Query(ctx, q, userID, serviceName)
	if err != nil {
		return nil, fmt.Errorf("docstore postgres: list api keys: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.APIKeyRecord, error) {
		var rec docstore.APIKeyRecord
		err := row.Scan(&rec.ID, &rec.UserID, &rec.ServiceName, &rec.EncryptedKey, &rec.IsActive, &rec.LastUsedAt)
		return rec, err
	})
}

// TouchAPIKey implements docstore.Store.
func (s *Store) TouchAPIKey(ctx context.Context, id string) error {
	const q = `UPDATE api_keys SET last_used_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("docstore postgres: touch api key: %w", err)
	}
	return nil
}

// ListKnowledgeBase implements docstore.Store.
func (s *Store) ListKnowledgeBase(ctx context.Context, agentID string) ([]docstore.KnowledgeEntry, error) {
	const q = `
		SELECT id, agent_id, title, content, metadata
		FROM   knowledge_base
		WHERE  agent_id = $1`

	rows, err := s.pool.Query(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("docstore postgres: list knowledge base: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.KnowledgeEntry, error) {
		var (
			e        docstore.KnowledgeEntry
			metaJSON []byte
		)
		if err := row.Scan(&e.ID, &e.AgentID, &e.Title, &e.Content, &metaJSON); err != nil {
			return e, err
		}
		_ = json.Unmarshal(metaJSON, &e.Metadata)
		return e, nil
	})
}

var _ docstore.Store = (*Store)(nil)
