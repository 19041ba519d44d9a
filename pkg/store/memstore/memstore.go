// Package memstore implements the store.Store interface entirely in
// process memory. It is the degrade path used when no cross-worker store
// is configured or reachable — single-worker operation only, since state
// written by one process is invisible to any other.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Radicalscale/virevo/pkg/store"
)

type entry struct {
	value   []byte
	str     string
	set     map[string]struct{}
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Store implements store.Store with an in-memory map guarded by a mutex.
// Expired entries are reaped lazily on access.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
}

// New creates an empty in-process Store.
func New() *Store {
	return &Store{data: make(map[string]*entry)}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = &entry{value: cp, expires: expiry(ttl)}
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		delete(s.data, key)
		return nil, store.ErrNotFound
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, nil
}

func (s *Store) UpdateMerge(_ context.Context, key string, partial map[string]any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		delete(s.data, key)
		return store.ErrNotFound
	}

	var doc map[string]any
	if err := json.Unmarshal(e.value, &doc); err != nil {
		return fmt.Errorf("memstore: unmarshal existing record %q: %w", key, err)
	}
	for k, v := range partial {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("memstore: marshal merged record %q: %w", key, err)
	}
	s.data[key] = &entry{value: merged, expires: expiry(ttl)}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) SetAdd(_ context.Context, setKey string, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[setKey]
	if !ok || e.expired(time.Now()) {
		e = &entry{set: make(map[string]struct{})}
	}
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	e.set[member] = struct{}{}
	e.expires = expiry(ttl)
	s.data[setKey] = e
	return nil
}

func (s *Store) SetRemove(_ context.Context, setKey string, member string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[setKey]
	if !ok || e.expired(time.Now()) || e.set == nil {
		return 0, nil
	}
	delete(e.set, member)
	return len(e.set), nil
}

func (s *Store) SetCount(_ context.Context, setKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[setKey]
	if !ok || e.expired(time.Now()) || e.set == nil {
		return 0, nil
	}
	return len(e.set), nil
}

func (s *Store) SetMembers(_ context.Context, setKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[setKey]
	if !ok || e.expired(time.Now()) || e.set == nil {
		return nil, nil
	}
	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	return members, nil
}

func (s *Store) SetClear(_ context.Context, setKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, setKey)
	return nil
}

func (s *Store) KVSetex(_ context.Context, flagKey string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[flagKey] = &entry{str: value, expires: expiry(ttl)}
	return nil
}

func (s *Store) KVGet(_ context.Context, flagKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[flagKey]
	if !ok || e.expired(time.Now()) {
		delete(s.data, flagKey)
		return "", store.ErrNotFound
	}
	return e.str, nil
}

func (s *Store) KVDelete(_ context.Context, flagKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, flagKey)
	return nil
}

// Ping always succeeds; there is no network dependency to verify.
func (s *Store) Ping(_ context.Context) error { return nil }

var _ store.Store = (*Store)(nil)
