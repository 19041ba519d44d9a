// Package docstore defines the persistent document store capability set:
// the `agents`, `api_keys`, and `knowledge_base` collections that back agent
// configuration, provider credentials, and knowledge-base chunks. The core
// only ever reads these collections (writes are owned by the external CRUD
// surface, out of scope here); the one exception is api_keys' last-used
// bookkeeping, which the Key Vault updates opportunistically.
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("docstore: not found")

// AgentRecord is the persisted form of an agent definition, read in full at
// session creation to build the immutable agent snapshot the core uses for
// the lifetime of a call.
type AgentRecord struct {
	ID              string
	UserID          string
	Name            string
	AgentType       string // "single_prompt" | "call_flow"
	SystemPrompt    string
	Settings        map[string]any
	CallFlow        []byte // JSON-encoded []flow.Node, decoded by flow.FromRecord
	HasKnowledgeBase bool
	UpdatedAt       time.Time
}

// APIKeyRecord is a single stored provider credential.
type APIKeyRecord struct {
	ID          string
	UserID      string
	ServiceName string
	EncryptedKey []byte
	IsActive    bool
	LastUsedAt  time.Time
}

// KnowledgeEntry is a single knowledge-base chunk for an agent, used by the
// document-store fallback leg of §4.8 retrieval when the vector store
// either has no hit or is unavailable.
type KnowledgeEntry struct {
	ID       string
	AgentID  string
	Title    string
	Content  string
	Metadata map[string]string
}

// Store is the document-store capability set consumed by the core.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetAgent fetches the agent definition by id.
	GetAgent(ctx context.Context, agentID string) (*AgentRecord, error)

	// ListAPIKeys returns active API keys for userID and serviceName. More
	// than one active key for the same (user, service) pair is possible in
	// principle; callers use the first active entry, matching the
	// `{user_id, service_name, is_active}` lookup contract.
	ListAPIKeys(ctx context.Context, userID, serviceName string) ([]APIKeyRecord, error)

	// TouchAPIKey records that id was just used, for credential-rotation
	// observability. Best-effort; callers should not fail a turn if this errors.
	TouchAPIKey(ctx context.Context, id string) error

	// ListKnowledgeBase returns all knowledge-base chunks for agentID.
	ListKnowledgeBase(ctx context.Context, agentID string) ([]KnowledgeEntry, error)
}
