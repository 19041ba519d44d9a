package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Radicalscale/virevo/internal/flow"
	"github.com/Radicalscale/virevo/internal/vault"
	"github.com/Radicalscale/virevo/pkg/docstore"
	"github.com/Radicalscale/virevo/pkg/store"
)

// easternLocation is loaded once; if the tzdata database is unavailable the
// zero value (UTC) is used rather than failing session creation.
var easternLocation = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

const recordTTL = time.Hour

// Manager is the Session Manager (C1). It owns the in-process session table
// and coordinates with the cross-worker store and document store so any
// worker in a deployment can resume a call.
type Manager struct {
	docs  docstore.Store
	store store.Store
	vault *vault.Vault

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a Manager. store may be nil to force single-worker
// operation (cross-worker reconstruction is simply unavailable).
func NewManager(docs docstore.Store, st store.Store, v *vault.Vault) *Manager {
	return &Manager{docs: docs, store: st, vault: v, sessions: make(map[string]*Session)}
}

// Create builds a new Session for an incoming/outgoing call (§4.1 create).
// It loads the agent snapshot, builds the cached system prompt exactly
// once, sets the timezone-aware now variable, and pre-warms the primary
// LLM credential so the first turn does not pay the key-fetch cost.
func (m *Manager) Create(ctx context.Context, callID, agentID, userID string) (*Session, error) {
	rec, err := m.docs.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("call: load agent %s: %w", agentID, err)
	}
	cfg, err := flow.FromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("call: build agent config: %w", err)
	}

	sess := newSession(callID, cfg, userID)
	sess.CachedSystemPrompt = cfg.SystemPrompt
	sess.vars.Set("now", FormatNow())

	if m.vault != nil && cfg.Settings.LLMProvider != "" {
		if secret, err := m.vault.GetKey(ctx, userID, cfg.Settings.LLMProvider); err == nil {
			sess.CacheCredential(cfg.Settings.LLMProvider, secret)
		}
	}

	m.mu.Lock()
	m.sessions[callID] = sess
	m.mu.Unlock()

	if m.store != nil {
		if raw, err := json.Marshal(sess.ToRecord()); err == nil {
			_ = m.store.Set(ctx, store.CallKey(callID), raw, recordTTL)
		}
	}
	return sess, nil
}

// Get returns the live Session for callID, first checking the in-process
// table and falling back to cross-worker reconstruction (§4.1 get()).
func (m *Manager) Get(ctx context.Context, callID string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	m.mu.Unlock()
	if ok {
		return sess, nil
	}

	if m.store == nil {
		return nil, fmt.Errorf("call: no session for %s and no cross-worker store configured", callID)
	}

	raw, err := m.store.Get(ctx, store.CallKey(callID))
	if err != nil {
		return nil, fmt.Errorf("call: reconstruct session %s: %w", callID, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("call: decode cross-worker record %s: %w", callID, err)
	}

	agentRec, err := m.docs.GetAgent(ctx, rec.AgentID)
	if err != nil {
		return nil, fmt.Errorf("call: reload agent %s: %w", rec.AgentID, err)
	}
	cfg, err := flow.FromRecord(agentRec)
	if err != nil {
		return nil, fmt.Errorf("call: rebuild agent config: %w", err)
	}

	sess = newSession(callID, cfg, rec.UserID)
	sess.CachedSystemPrompt = cfg.SystemPrompt
	sess.applyRecord(rec)

	m.mu.Lock()
	m.sessions[callID] = sess
	m.mu.Unlock()
	return sess, nil
}

// Persist writes sess's cross-worker record, refreshing its TTL. Callers
// invoke this on key flag changes, matching §3's "refreshed on each write".
func (m *Manager) Persist(ctx context.Context, sess *Session) error {
	if m.store == nil {
		return nil
	}
	raw, err := json.Marshal(sess.ToRecord())
	if err != nil {
		return fmt.Errorf("call: marshal record for %s: %w", sess.CallID, err)
	}
	return m.store.Set(ctx, store.CallKey(sess.CallID), raw, recordTTL)
}

// Destroy tears down a Session: removes it from the in-process table and
// deletes its cross-worker record.
func (m *Manager) Destroy(ctx context.Context, callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.Delete(ctx, store.CallKey(callID))
		_ = m.store.SetClear(ctx, store.PlaybacksKey(callID))
	}
}

// FormatNow returns the current time in US Eastern, formatted for
// substitution into flow scripts and webhook bodies (§4.3 step 3, §4.1 create).
func FormatNow() string {
	return time.Now().In(easternLocation).Format("Monday, January 2, 2006 at 3:04 PM MST")
}
