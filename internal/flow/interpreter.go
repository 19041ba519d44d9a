package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Radicalscale/virevo/internal/knowledge"
	"github.com/Radicalscale/virevo/pkg/provider/llm"
	"github.com/Radicalscale/virevo/pkg/types"
)

// Turn is a single history entry: either {role: user, text} or
// {role: assistant, text, node_id} per the Session conversation_history
// field (§3). NodeID is only set for assistant turns produced in flow mode.
type Turn struct {
	Role   string
	Text   string
	NodeID string
}

// transitionEvalTimeout bounds the LLM call in §4.4.3 step 4. On timeout the
// interpreter stays on the current node — it never silently advances.
const transitionEvalTimeout = 1500 * time.Millisecond

// ErrStayOnNode is a sentinel error EvaluateTransitions never actually
// returns — evaluation either yields an index or -1 (stay); it documents the
// invariant for readers of the call sites.
var ErrStayOnNode = errors.New("flow: no transition matched, staying on node")

// Interpreter evaluates a call-flow against a turn's user input.
type Interpreter struct {
	llm     llm.Provider
	webhook *WebhookExecutor
	knowl   *knowledge.Router
}

// NewInterpreter constructs an Interpreter. webhook may be nil if the agent
// has no function nodes; knowl may be nil if no knowledge base retrieval is
// configured.
func NewInterpreter(provider llm.Provider, webhook *WebhookExecutor, knowl *knowledge.Router) *Interpreter {
	return &Interpreter{llm: provider, webhook: webhook, knowl: knowl}
}

// SelectActiveNode implements §4.4.1.
func (in *Interpreter) SelectActiveNode(cfg *AgentConfig, history []Turn, currentNodeID string) (Node, error) {
	firstTurn := len(history) <= 1

	if firstTurn && currentNodeID != "" {
		if n, ok := cfg.NodeByID(currentNodeID); ok {
			return n, nil
		}
	}

	if firstTurn {
		start, hasStart := cfg.StartNode()
		whoSpeaksFirst := "ai"
		if hasStart {
			if sd, err := start.Start(); err == nil && sd.WhoSpeaksFirst != "" {
				whoSpeaksFirst = sd.WhoSpeaksFirst
			}
		}
		if whoSpeaksFirst == "user" {
			if n, ok := cfg.FirstInteractiveNode(); ok {
				return n, nil
			}
		}
		if n, ok := cfg.FirstConversationNode(); ok {
			return n, nil
		}
		return Node{}, fmt.Errorf("flow: no usable entry node for agent %s", cfg.ID)
	}

	if currentNodeID == "" {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == "assistant" && history[i].NodeID != "" {
				currentNodeID = history[i].NodeID
				break
			}
		}
	}
	if currentNodeID == "" {
		return Node{}, fmt.Errorf("flow: cannot determine current node for agent %s", cfg.ID)
	}
	n, ok := cfg.NodeByID(currentNodeID)
	if !ok {
		return Node{}, fmt.Errorf("flow: current node %q not found", currentNodeID)
	}
	return n, nil
}

// EvaluateTransitions implements §4.4.3 steps 3-5: variable-gated filtering,
// LLM evaluation, and fallback. autoTransitionTo and autoTransitionAfterResp
// (steps 1-2) are handled by the node-type-specific caller before this is
// invoked, since they are fields of the node's own data, not of the
// transition list itself.
//
// webhookResponse is included in the LLM prompt when evaluating a function
// node's transitions; pass nil otherwise.
func (in *Interpreter) EvaluateTransitions(ctx context.Context, transitions []Transition, history []Turn, vars Variables, webhookResponse any, goal string, scriptMode bool) (nextNodeID string, stay bool) {
	eligible := make([]Transition, 0, len(transitions))
	for _, t := range transitions {
		if transitionEligible(t, vars) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return "", true
	}
	if len(eligible) == 1 && eligible[0].Condition == "" {
		return eligible[0].NextNode, false
	}

	idx, ok := in.evaluateWithLLM(ctx, eligible, history, webhookResponse)
	if !ok || idx < 0 || idx >= len(eligible) {
		// Fallback: prefer an empty/default/else transition.
		for _, t := range eligible {
			c := strings.ToLower(strings.TrimSpace(t.Condition))
			if c == "" || c == "default" || c == "else" {
				return t.NextNode, false
			}
		}
		// goal / script-mode nodes stay to let the response generator guide
		// the user rather than force an arbitrary jump.
		return "", true
	}
	return eligible[idx].NextNode, false
}

func transitionEligible(t Transition, vars Variables) bool {
	for _, name := range t.CheckVariables {
		if !vars.Exists(name) {
			return false
		}
	}
	return true
}

// evaluateWithLLM asks the model to pick the satisfied transition by index,
// applying the 1.5s timeout from §4.4.3 step 4.
func (in *Interpreter) evaluateWithLLM(ctx context.Context, transitions []Transition, history []Turn, webhookResponse any) (int, bool) {
	if in.llm == nil {
		return -1, false
	}

	ctx, cancel := context.WithTimeout(ctx, transitionEvalTimeout)
	defer cancel()

	prompt := buildTransitionPrompt(transitions, history, webhookResponse)
	resp, err := in.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You choose which conversation transition applies. Reply with only the integer index of the satisfied transition, or -1 if none apply.",
		Messages:     []types.Message{{Role: "user", Content: prompt}},
		Temperature:  0,
		MaxTokens:    8,
	})
	if err != nil {
		return -1, false
	}

	idx, convErr := strconv.Atoi(strings.TrimSpace(resp.Content))
	if convErr != nil {
		return -1, false
	}
	return idx, true
}

func buildTransitionPrompt(transitions []Transition, history []Turn, webhookResponse any) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, t := range lastN(history, 10) {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}
	if webhookResponse != nil {
		b.WriteString("\nWebhook response:\n")
		if raw, err := json.Marshal(webhookResponse); err == nil {
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nCandidate transitions:\n")
	for i, t := range transitions {
		fmt.Fprintf(&b, "%d: %s\n", i, t.Condition)
	}
	return b.String()
}

func lastN(history []Turn, n int) []Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
