// Package orchestrator implements the Turn Orchestrator (C3): on each final
// user utterance it produces the agent's response as an ordered stream of
// sentences delivered to the TTS Player, dispatching to either the
// single-prompt policy (§4.3.1) or the call-flow interpreter (§4.4).
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Radicalscale/virevo/internal/bargein"
	"github.com/Radicalscale/virevo/internal/call"
	"github.com/Radicalscale/virevo/internal/deadair"
	"github.com/Radicalscale/virevo/internal/flow"
	"github.com/Radicalscale/virevo/internal/knowledge"
	"github.com/Radicalscale/virevo/pkg/provider/llm"
	"github.com/Radicalscale/virevo/pkg/types"
)

// webhookGuardTimeout bounds how long a turn waits for an in-flight webhook
// to clear before proceeding anyway (§4.3 step 1).
const webhookGuardTimeout = 15 * time.Second

// SentenceSink is the subset of internal/player.Player the orchestrator
// needs: a channel-fed synthesis-and-playback pipeline for one call.
type SentenceSink interface {
	Speak(ctx context.Context, callID string, sentences <-chan string) error
}

// TurnOutcome is what one orchestrated turn produces.
type TurnOutcome struct {
	ResponseText      string
	ShouldEndCall     bool
	TransferRequested bool
	TransferDest      string
}

// Orchestrator implements §4.3.
type Orchestrator struct {
	llm         llm.Provider
	interpreter *flow.Interpreter
	player      SentenceSink
	bargein     *bargein.Supervisor
	knowledge   *knowledge.Router
	deadair     *deadair.Supervisor
}

// New constructs an Orchestrator. da may be nil, in which case webhook
// execution does not suspend any silence timer.
func New(provider llm.Provider, interpreter *flow.Interpreter, player SentenceSink, bargeinSupervisor *bargein.Supervisor, kb *knowledge.Router, da *deadair.Supervisor) *Orchestrator {
	return &Orchestrator{llm: provider, interpreter: interpreter, player: player, bargein: bargeinSupervisor, knowledge: kb, deadair: da}
}

// ProcessTurn runs the full §4.3 algorithm for one final user utterance.
func (o *Orchestrator) ProcessTurn(ctx context.Context, sess *call.Session, userText string) (TurnOutcome, error) {
	// Step 1: webhook guard.
	o.waitForWebhookClear(ctx, sess)

	// Step 2: barge-in interceptor.
	if sess.SilenceGreetingTriggered() {
		o.bargein.Trigger(ctx, sess)
		if outcome, handled, err := o.renderIntendedGreeting(ctx, sess); handled {
			return outcome, err
		}
		// Fall through only if no greeting node could be found — better to
		// still respond than to leave the caller in silence.
	}

	// Step 3: refresh volatile variables.
	sess.Variables().Set("now", call.FormatNow())

	// Step 4: append user turn if not already appended by the caller.
	hist := sess.History()
	if len(hist) == 0 || hist[len(hist)-1].Role != "user" || hist[len(hist)-1].Text != userText {
		sess.AppendUserTurn(userText)
	}

	// Step 5: dispatch by agent type.
	switch sess.Agent.AgentType {
	case flow.AgentCallFlow:
		return o.processFlowTurn(ctx, sess, userText)
	default:
		return o.processSinglePromptTurn(ctx, sess, userText)
	}
}

func (o *Orchestrator) waitForWebhookClear(ctx context.Context, sess *call.Session) {
	if !sess.ExecutingWebhook() {
		return
	}
	deadline := time.Now().Add(webhookGuardTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for sess.ExecutingWebhook() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// renderIntendedGreeting locates the greeting the barge-in interrupted —
// current node; else the start node's natural successor; else a node whose
// label matches the conventional greeting names (§4.3 step 2) — and speaks
// it directly, bypassing normal LLM generation.
func (o *Orchestrator) renderIntendedGreeting(ctx context.Context, sess *call.Session) (TurnOutcome, bool, error) {
	cfg := sess.Agent
	node, ok := cfg.NodeByID(sess.CurrentNodeID())
	if !ok {
		node, ok = cfg.FirstConversationNode()
	}
	if !ok {
		node, ok = cfg.NodeByLabel("greeting", "intro", "introduction", "start")
	}
	if !ok {
		return TurnOutcome{}, false, nil
	}

	data, err := node.Conversation()
	if err != nil {
		return TurnOutcome{}, false, err
	}
	text := flow.Substitute(data.Script, sess.Variables())
	if text == "" {
		text = flow.Substitute(data.Content, sess.Variables())
	}

	if err := o.speak(ctx, sess, text); err != nil {
		return TurnOutcome{}, true, err
	}
	sess.AppendAssistantTurn(text, node.ID)
	sess.SetCurrentNodeID(node.ID)
	return TurnOutcome{ResponseText: text}, true, nil
}

// processSinglePromptTurn implements §4.3.1/§4.3.2: a single LLM call whose
// streamed output is split into sentences and forwarded to the Player as
// each one completes.
func (o *Orchestrator) processSinglePromptTurn(ctx context.Context, sess *call.Session, userText string) (TurnOutcome, error) {
	systemPrompt := sess.CachedSystemPrompt
	if o.knowledge != nil {
		chunks := o.knowledge.Retrieve(ctx, sess.Agent.ID, sess.Agent.HasKnowledgeBase, userText)
		if len(chunks) > 0 {
			var kb strings.Builder
			kb.WriteString("\n\nRelevant information:\n")
			for _, c := range chunks {
				kb.WriteString("- ")
				kb.WriteString(c.Content)
				kb.WriteString("\n")
			}
			systemPrompt += kb.String()
		}
	}

	messages := toLLMMessages(sess.History())

	streamCh, err := o.llm.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
	})
	if err != nil {
		return TurnOutcome{}, fmt.Errorf("orchestrator: stream completion: %w", err)
	}

	sentenceCh := make(chan string, 16)
	speakErrCh := make(chan error, 1)
	go func() {
		speakErrCh <- o.player.Speak(ctx, sess.CallID, sentenceCh)
	}()

	full, err := forwardSentences(ctx, streamCh, sentenceCh)
	close(sentenceCh)
	if err != nil {
		<-speakErrCh
		return TurnOutcome{}, err
	}
	if speakErr := <-speakErrCh; speakErr != nil {
		return TurnOutcome{}, speakErr
	}

	sess.AppendAssistantTurn(full, "")
	return TurnOutcome{ResponseText: full}, nil
}

func (o *Orchestrator) processFlowTurn(ctx context.Context, sess *call.Session, userText string) (TurnOutcome, error) {
	node, err := o.interpreter.SelectActiveNode(sess.Agent, sess.History(), sess.CurrentNodeID())
	if err != nil {
		return TurnOutcome{}, err
	}

	if node.Type == flow.NodeFunction {
		sess.SetExecutingWebhook(true)
		defer sess.SetExecutingWebhook(false)
		if o.deadair != nil {
			o.deadair.OnWebhookStart()
			defer o.deadair.OnWebhookStop(ctx)
		}
	}

	result, err := o.interpreter.Process(ctx, sess.Agent, node, sess.Variables(), sess.History(), userText, sess.CallID)
	if err != nil {
		return TurnOutcome{}, err
	}

	if result.ResponseText != "" {
		if err := o.speak(ctx, sess, result.ResponseText); err != nil {
			return TurnOutcome{}, err
		}
		sess.AppendAssistantTurn(result.ResponseText, node.ID)
	}

	if result.ShouldEndCall {
		sess.SetShouldEndCall(true)
	}
	if !result.Stay && result.NextNodeID != "" {
		sess.SetCurrentNodeID(result.NextNodeID)
	} else {
		sess.SetCurrentNodeID(node.ID)
	}

	return TurnOutcome{
		ResponseText:      result.ResponseText,
		ShouldEndCall:     result.ShouldEndCall,
		TransferRequested: result.TransferRequested,
		TransferDest:      result.TransferDestination,
	}, nil
}

// speak delivers a single pre-assembled sentence (or short passage) to the player.
func (o *Orchestrator) speak(ctx context.Context, sess *call.Session, text string) error {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return o.player.Speak(ctx, sess.CallID, ch)
}

// forwardSentences splits a streaming completion into sentences using the
// strong/weak boundary rules of §4.3.1 and forwards each to sentenceCh as
// soon as it completes, returning the full assembled text. No sentence is
// emitted twice, and the trailing fragment is flushed once at stream end
// (§4.3.2) — preventing the "double speak" defect class named in the spec.
func forwardSentences(ctx context.Context, streamCh <-chan llm.Chunk, sentenceCh chan<- string) (string, error) {
	var buf, full strings.Builder
	for {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		case chunk, ok := <-streamCh:
			if !ok {
				flushRemainder(&buf, &full, sentenceCh, ctx)
				return full.String(), nil
			}
			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				full.WriteString(chunk.Text)
			}
			for {
				idx := sentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				s := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				select {
				case sentenceCh <- s:
				case <-ctx.Done():
					return full.String(), ctx.Err()
				}
			}
			if chunk.FinishReason != "" {
				flushRemainder(&buf, &full, sentenceCh, ctx)
				return full.String(), nil
			}
		}
	}
}

func flushRemainder(buf, full *strings.Builder, sentenceCh chan<- string, ctx context.Context) {
	if buf.Len() == 0 {
		return
	}
	select {
	case sentenceCh <- buf.String():
	case <-ctx.Done():
	}
	buf.Reset()
}

// sentenceBoundary finds the byte index of the first strong (.!?) or,
// failing that, weak (,—;) punctuation mark immediately followed by
// whitespace. It returns the index of the last byte of the mark itself
// (so callers slice s[:idx+1]), handling the multi-byte em dash correctly.
func sentenceBoundary(s string) int {
	if idx := boundaryFor(s, ".!?"); idx >= 0 {
		return idx
	}
	return boundaryFor(s, ",—;")
}

func boundaryFor(s, marks string) int {
	runes := []rune(s)
	byteIdx := 0
	for i, r := range runes {
		markWidth := len(string(r))
		if i+1 < len(runes) && strings.ContainsRune(marks, r) {
			switch runes[i+1] {
			case ' ', '\n', '\r', '\t':
				return byteIdx + markWidth - 1
			}
		}
		byteIdx += markWidth
	}
	return -1
}

func toLLMMessages(history []flow.Turn) []types.Message {
	out := make([]types.Message, len(history))
	for i, t := range history {
		out[i] = types.Message{Role: t.Role, Content: t.Text}
	}
	return out
}
