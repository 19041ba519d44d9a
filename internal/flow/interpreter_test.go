package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/Radicalscale/virevo/internal/knowledge"
	"github.com/Radicalscale/virevo/pkg/docstore"
	"github.com/Radicalscale/virevo/pkg/docstore/mock"
	"github.com/Radicalscale/virevo/pkg/provider/llm"
	llmmock "github.com/Radicalscale/virevo/pkg/provider/llm/mock"
)

// TestEvaluateTransitions_NoMatchStaysOnNode covers "no silent advance": when
// the LLM returns an unparseable/out-of-range index and no eligible
// transition is a default/else, the interpreter must stay rather than guess.
func TestEvaluateTransitions_NoMatchStaysOnNode(t *testing.T) {
	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "not-a-number"}}
	in := NewInterpreter(provider, nil, nil)

	transitions := []Transition{
		{Condition: "user wants a refund", NextNode: "refund"},
		{Condition: "user wants to cancel", NextNode: "cancel"},
	}
	next, stay := in.EvaluateTransitions(context.Background(), transitions, nil, Variables{}, nil, "", false)
	if !stay || next != "" {
		t.Errorf("EvaluateTransitions = (%q, stay=%v), want (\"\", true)", next, stay)
	}
}

// TestEvaluateTransitions_SingleUnconditionalAdvances is the inverse: a
// single unconditional transition always advances without invoking the LLM.
func TestEvaluateTransitions_SingleUnconditionalAdvances(t *testing.T) {
	provider := &llmmock.Provider{}
	in := NewInterpreter(provider, nil, nil)

	transitions := []Transition{{Condition: "", NextNode: "next"}}
	next, stay := in.EvaluateTransitions(context.Background(), transitions, nil, Variables{}, nil, "", false)
	if stay || next != "next" {
		t.Errorf("EvaluateTransitions = (%q, stay=%v), want (\"next\", false)", next, stay)
	}
	if len(provider.CompleteCalls) != 0 {
		t.Error("expected no LLM call for a single unconditional transition")
	}
}

// TestEvaluateTransitions_FallsBackToDefault covers the else/default fallback
// when the LLM fails to pick an eligible transition.
func TestEvaluateTransitions_FallsBackToDefault(t *testing.T) {
	provider := &llmmock.Provider{CompleteErr: context.DeadlineExceeded}
	in := NewInterpreter(provider, nil, nil)

	transitions := []Transition{
		{Condition: "user wants a refund", NextNode: "refund"},
		{Condition: "default", NextNode: "fallback"},
	}
	next, stay := in.EvaluateTransitions(context.Background(), transitions, nil, Variables{}, nil, "", false)
	if stay || next != "fallback" {
		t.Errorf("EvaluateTransitions = (%q, stay=%v), want (\"fallback\", false)", next, stay)
	}
}

// TestPromptCompletion_RetrievesKnowledgeForCallFlowNode covers §4.4.4: a
// call_flow prompt-mode conversation node must receive knowledge-base
// snippets the same way the single-prompt policy does.
func TestPromptCompletion_RetrievesKnowledgeForCallFlowNode(t *testing.T) {
	docs := mock.New()
	docs.KnowledgeBase["agent-1"] = []docstore.KnowledgeEntry{
		{Title: "Hours", Content: "We are open 9 to 5."},
	}
	kb := knowledge.New(nil, docs, nil, 5)

	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "We're open 9 to 5!"}}
	in := NewInterpreter(provider, nil, kb)

	cfg := &AgentConfig{ID: "agent-1", HasKnowledgeBase: true}
	_, err := in.promptCompletion(context.Background(), cfg, "answer the question", "Tell the caller our hours.", Variables{}, "What are your hours?")
	if err != nil {
		t.Fatalf("promptCompletion: %v", err)
	}

	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("expected 1 completion call, got %d", len(provider.CompleteCalls))
	}
	prompt := provider.CompleteCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "We are open 9 to 5.") {
		t.Errorf("expected prompt to include retrieved knowledge, got: %q", prompt)
	}
}

// TestPromptCompletion_NoKnowledgeRouterStillRenders covers the nil-knowledge
// case (single_prompt-only deployments, or flowtest's CLI with no router):
// rendering must still succeed.
func TestPromptCompletion_NoKnowledgeRouterStillRenders(t *testing.T) {
	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
	in := NewInterpreter(provider, nil, nil)

	cfg := &AgentConfig{ID: "agent-1", HasKnowledgeBase: true}
	text, err := in.promptCompletion(context.Background(), cfg, "", "Greet the caller.", Variables{}, "hello")
	if err != nil {
		t.Fatalf("promptCompletion: %v", err)
	}
	if text != "hi" {
		t.Errorf("text = %q, want %q", text, "hi")
	}
}
