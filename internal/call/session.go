// Package call implements the Session Manager (C1): per-call lifecycle,
// cross-worker record reconstruction, and the provider credential cache a
// session owns for its lifetime.
package call

import (
	"sync"
	"time"

	"github.com/Radicalscale/virevo/internal/flow"
)

// Record is the cross-worker-safe subset of a Session: JSON-serializable
// fields only, no live connections (§3 "Cross-worker record").
type Record struct {
	CallID                   string         `json:"call_id"`
	AgentID                  string         `json:"agent_id"`
	UserID                   string         `json:"user_id"`
	FlowType                 string         `json:"flow_type"`
	CustomVariables          flow.Variables `json:"custom_variables"`
	CurrentNodeID            string         `json:"current_node_id"`
	ConversationHistory      []flow.Turn    `json:"conversation_history"`
	AwaitingSpeech           bool           `json:"awaiting_speech"`
	LastAgentText            string         `json:"last_agent_text"`
	RecentAgentTexts         []string       `json:"recent_agent_texts"`
	ProcessingSpeech         bool           `json:"processing_speech"`
	ChunkCount               int            `json:"chunk_count"`
	UserHasSpoken            bool           `json:"user_has_spoken"`
	SilenceGreetingTriggered bool           `json:"silence_greeting_triggered"`
}

// Session is a single live call. All mutable fields are guarded by mu;
// exported accessor methods enforce the single-writer-for-history rule
// described in §5 (only the turn orchestrator appends; the barge-in
// supervisor may pop the most recent assistant turn).
type Session struct {
	CallID  string
	Agent   *flow.AgentConfig
	UserID  string

	CachedSystemPrompt string
	CallStartTime      time.Time

	mu                       sync.Mutex
	vars                     flow.Variables
	history                  []flow.Turn
	currentNodeID            string
	awaitingSpeech           bool
	lastAgentText            string
	recentAgentTexts         []string
	processingSpeech         bool
	chunkCount               int
	userHasSpoken            bool
	silenceGreetingTriggered bool
	executingWebhook         bool
	shouldEndCall            bool

	// credentials caches decrypted secrets for this session's lifetime
	// only; they are never written to the cross-worker record or shared
	// across sessions (§4.10).
	credentials map[string]string
}

func newSession(callID string, agent *flow.AgentConfig, userID string) *Session {
	return &Session{
		CallID:        callID,
		Agent:         agent,
		UserID:        userID,
		CallStartTime: time.Now(),
		vars:          flow.Variables{},
		credentials:   make(map[string]string),
	}
}

func (s *Session) Variables() flow.Variables {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars
}

func (s *Session) History() []flow.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flow.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// AppendUserTurn appends a user turn. Only the turn orchestrator should call this.
func (s *Session) AppendUserTurn(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, flow.Turn{Role: "user", Text: text})
	s.userHasSpoken = true
}

// AppendAssistantTurn appends an assistant turn, recording nodeID for flow mode.
func (s *Session) AppendAssistantTurn(text, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, flow.Turn{Role: "assistant", Text: text, NodeID: nodeID})
	s.lastAgentText = text
	s.recentAgentTexts = append(s.recentAgentTexts, text)
	if len(s.recentAgentTexts) > 5 {
		s.recentAgentTexts = s.recentAgentTexts[len(s.recentAgentTexts)-5:]
	}
}

// PopLastAssistantTurn removes the most recent assistant turn, used by the
// barge-in supervisor to retract a silence greeting (§4.6 step 3). Reports
// whether a turn was popped.
func (s *Session) PopLastAssistantTurn() (flow.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 || s.history[len(s.history)-1].Role != "assistant" {
		return flow.Turn{}, false
	}
	last := s.history[len(s.history)-1]
	s.history = s.history[:len(s.history)-1]
	return last, true
}

func (s *Session) CurrentNodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNodeID
}

func (s *Session) SetCurrentNodeID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentNodeID = id
}

func (s *Session) SilenceGreetingTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenceGreetingTriggered
}

func (s *Session) SetSilenceGreetingTriggered(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silenceGreetingTriggered = v
}

func (s *Session) ExecutingWebhook() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executingWebhook
}

func (s *Session) SetExecutingWebhook(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executingWebhook = v
}

func (s *Session) ShouldEndCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldEndCall
}

func (s *Session) SetShouldEndCall(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldEndCall = v
}

func (s *Session) IncrementChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkCount++
	return s.chunkCount
}

// Credential returns a cached provider secret for this session, if present.
func (s *Session) Credential(service string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.credentials[service]
	return v, ok
}

// CacheCredential stores a decrypted secret for the lifetime of the session.
func (s *Session) CacheCredential(service, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[service] = secret
}

// ToRecord snapshots the JSON-safe subset of the session for the cross-worker store.
func (s *Session) ToRecord() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]flow.Turn, len(s.history))
	copy(hist, s.history)
	recent := make([]string, len(s.recentAgentTexts))
	copy(recent, s.recentAgentTexts)

	return Record{
		CallID:                   s.CallID,
		AgentID:                  s.Agent.ID,
		UserID:                   s.UserID,
		FlowType:                 string(s.Agent.AgentType),
		CustomVariables:          s.vars,
		CurrentNodeID:            s.currentNodeID,
		ConversationHistory:      hist,
		AwaitingSpeech:           s.awaitingSpeech,
		LastAgentText:            s.lastAgentText,
		RecentAgentTexts:         recent,
		ProcessingSpeech:         s.processingSpeech,
		ChunkCount:               s.chunkCount,
		UserHasSpoken:            s.userHasSpoken,
		SilenceGreetingTriggered: s.silenceGreetingTriggered,
	}
}

// applyRecord restores transient session state from a cross-worker record
// reconstructed on a different worker (§4.1 get()).
func (s *Session) applyRecord(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CustomVariables != nil {
		s.vars = rec.CustomVariables
	}
	s.currentNodeID = rec.CurrentNodeID
	s.history = rec.ConversationHistory
	s.awaitingSpeech = rec.AwaitingSpeech
	s.lastAgentText = rec.LastAgentText
	s.recentAgentTexts = rec.RecentAgentTexts
	s.processingSpeech = rec.ProcessingSpeech
	s.chunkCount = rec.ChunkCount
	s.userHasSpoken = rec.UserHasSpoken
	s.silenceGreetingTriggered = rec.SilenceGreetingTriggered
}
