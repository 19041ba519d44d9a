package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Radicalscale/virevo/pkg/docstore"
)

// AgentType selects the turn-production policy for a session.
type AgentType string

const (
	AgentSinglePrompt AgentType = "single_prompt"
	AgentCallFlow     AgentType = "call_flow"
)

// Settings holds the provider and behavior configuration of an agent.
// Provider-specific sub-settings are carried opaquely in Extra.
type Settings struct {
	STTProvider      string         `json:"stt_provider,omitempty"`
	LLMProvider      string         `json:"llm_provider,omitempty"`
	TTSProvider      string         `json:"tts_provider,omitempty"`
	LLMModel         string         `json:"llm_model,omitempty"`
	Temperature      float64        `json:"temperature,omitempty"`
	MaxTokens        int            `json:"max_tokens,omitempty"`
	VoiceSettings    map[string]any `json:"voice_settings,omitempty"`
	DeadAirSettings  DeadAirSettings `json:"dead_air_settings,omitempty"`
	Extra            map[string]any `json:"-"`
}

// DeadAirSettings configures the dead-air supervisor (C7) for an agent.
type DeadAirSettings struct {
	SilenceTimeoutNormalSec  int `json:"silence_timeout_normal_sec,omitempty"`
	SilenceTimeoutHoldOnSec  int `json:"silence_timeout_hold_on_sec,omitempty"`
	MaxCheckinsBeforeDisconnect int `json:"max_checkins_before_disconnect,omitempty"`
	MaxCallDurationSec       int `json:"max_call_duration_sec,omitempty"`
}

// AgentConfig is the immutable snapshot of an agent definition captured at
// session start. It is never refreshed mid-call (see Session Manager, C1).
type AgentConfig struct {
	ID               string
	UserID           string
	AgentType        AgentType
	SystemPrompt     string
	Settings         Settings
	CallFlow         []Node
	HasKnowledgeBase bool
}

// FromRecord builds an immutable AgentConfig snapshot from a persisted
// docstore.AgentRecord, decoding its JSON-encoded settings and call-flow
// node list.
func FromRecord(rec *docstore.AgentRecord) (*AgentConfig, error) {
	cfg := &AgentConfig{
		ID:               rec.ID,
		UserID:           rec.UserID,
		AgentType:        AgentType(rec.AgentType),
		SystemPrompt:     rec.SystemPrompt,
		HasKnowledgeBase: rec.HasKnowledgeBase,
	}

	settingsJSON, err := json.Marshal(rec.Settings)
	if err != nil {
		return nil, fmt.Errorf("flow: marshal agent settings: %w", err)
	}
	if err := json.Unmarshal(settingsJSON, &cfg.Settings); err != nil {
		return nil, fmt.Errorf("flow: decode agent settings: %w", err)
	}
	cfg.Settings.Extra = rec.Settings

	if len(rec.CallFlow) > 0 {
		if err := json.Unmarshal(rec.CallFlow, &cfg.CallFlow); err != nil {
			return nil, fmt.Errorf("flow: decode call flow: %w", err)
		}
	}

	return cfg, nil
}

// NodeByID returns the node with the given id, or false if none matches.
func (c *AgentConfig) NodeByID(id string) (Node, bool) {
	for _, n := range c.CallFlow {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StartNode returns the flow's start node, or false if it has none (a
// malformed or single_prompt-only config).
func (c *AgentConfig) StartNode() (Node, bool) {
	for _, n := range c.CallFlow {
		if n.Type == NodeStart {
			return n, true
		}
	}
	return Node{}, false
}

// FirstConversationNode returns the first node of type conversation, in
// flow definition order.
func (c *AgentConfig) FirstConversationNode() (Node, bool) {
	for _, n := range c.CallFlow {
		if n.Type == NodeConversation {
			return n, true
		}
	}
	return Node{}, false
}

// FirstInteractiveNode returns the first node whose type requires a user
// response (conversation, collect_input, press_digit, extract_variable).
func (c *AgentConfig) FirstInteractiveNode() (Node, bool) {
	for _, n := range c.CallFlow {
		switch n.Type {
		case NodeConversation, NodeCollectInput, NodePressDigit, NodeExtractVariable:
			return n, true
		}
	}
	return Node{}, false
}

// NodeByLabel returns the first node whose label contains needle
// case-insensitively used by the greeting-node fallback in §4.3 step 2.
func (c *AgentConfig) NodeByLabel(needles ...string) (Node, bool) {
	for _, n := range c.CallFlow {
		label := strings.ToLower(n.Label)
		for _, needle := range needles {
			if strings.Contains(label, strings.ToLower(needle)) {
				return n, true
			}
		}
	}
	return Node{}, false
}
