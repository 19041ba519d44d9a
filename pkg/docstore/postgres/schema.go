// Package postgres provides a PostgreSQL-backed implementation of
// docstore.Store: the agents, api_keys, and knowledge_base collections.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	agent, err := store.GetAgent(ctx, agentID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAgents = `
CREATE TABLE IF NOT EXISTS agents (
    id                 TEXT         PRIMARY KEY,
    user_id            TEXT         NOT NULL,
    name               TEXT         NOT NULL DEFAULT '',
    agent_type         TEXT         NOT NULL DEFAULT 'single_prompt',
    system_prompt      TEXT         NOT NULL DEFAULT '',
    settings           JSONB        NOT NULL DEFAULT '{}',
    call_flow          JSONB        NOT NULL DEFAULT '[]',
    has_knowledge_base BOOLEAN      NOT NULL DEFAULT false,
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agents_user_id ON agents (user_id);
`

const ddlAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    service_name  TEXT         NOT NULL,
    encrypted_key BYTEA        NOT NULL,
    is_active     BOOLEAN      NOT NULL DEFAULT true,
    last_used_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_api_keys_lookup
    ON api_keys (user_id, service_name, is_active);
`

const ddlKnowledgeBase = `
CREATE TABLE IF NOT EXISTS knowledge_base (
    id        TEXT   PRIMARY KEY,
    agent_id  TEXT   NOT NULL,
    title     TEXT   NOT NULL DEFAULT '',
    content   TEXT   NOT NULL,
    metadata  JSONB  NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_knowledge_base_agent_id ON knowledge_base (agent_id);
`

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlAgents, ddlAPIKeys, ddlKnowledgeBase} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("docstore postgres migrate: %w", err)
		}
	}
	return nil
}
