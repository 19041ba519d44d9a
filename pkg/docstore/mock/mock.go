// Package mock provides a test double for the docstore.Store interface.
package mock

import (
	"context"
	"sync"

	"github.com/Radicalscale/virevo/pkg/docstore"
)

// Store is a mock implementation of docstore.Store backed by in-memory maps.
type Store struct {
	mu sync.Mutex

	Agents        map[string]*docstore.AgentRecord
	APIKeys       map[string][]docstore.APIKeyRecord // keyed by userID+"|"+serviceName
	KnowledgeBase map[string][]docstore.KnowledgeEntry

	TouchedKeys []string
}

// New creates an empty mock Store.
func New() *Store {
	return &Store{
		Agents:        make(map[string]*docstore.AgentRecord),
		APIKeys:       make(map[string][]docstore.APIKeyRecord),
		KnowledgeBase: make(map[string][]docstore.KnowledgeEntry),
	}
}

func (s *Store) GetAgent(_ context.Context, agentID string) (*docstore.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Agents[agentID]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListAPIKeys(_ context.Context, userID, serviceName string) ([]docstore.APIKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.APIKeys[userID+"|"+serviceName], nil
}

func (s *Store) TouchAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TouchedKeys = append(s.TouchedKeys, id)
	return nil
}

func (s *Store) ListKnowledgeBase(_ context.Context, agentID string) ([]docstore.KnowledgeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.KnowledgeBase[agentID], nil
}

var _ docstore.Store = (*Store)(nil)
