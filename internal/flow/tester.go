package flow

import (
	"context"
	"fmt"
)

// StepResult is the transparent, step-by-step record of one simulated turn,
// exposing the same intermediate values a live call would produce so a flow
// designer can debug a node sequence offline.
type StepResult struct {
	NodeID        string
	NodeLabel     string
	UserResponse  string
	ResponseText  string
	NextNodeID    string
	Variables     Variables
	ShouldEndCall bool
	Transferred   bool
	Err           string
}

// Tester replays a call flow against simulated user input using the exact
// same Interpreter code path as a live call, for offline debugging.
type Tester struct {
	cfg         *AgentConfig
	interpreter *Interpreter
	vars        Variables
	history     []Turn
	currentNode string
}

// NewTester builds a Tester over cfg, starting from the flow's natural entry
// node (§4.4.1) with an empty variable set unless initialVars is given.
func NewTester(cfg *AgentConfig, interpreter *Interpreter, initialVars Variables) *Tester {
	vars := initialVars
	if vars == nil {
		vars = Variables{}
	}
	return &Tester{cfg: cfg, interpreter: interpreter, vars: vars}
}

// Step simulates one user turn and advances the tester's internal state.
func (t *Tester) Step(ctx context.Context, userResponse string) StepResult {
	node, err := t.interpreter.SelectActiveNode(t.cfg, t.history, t.currentNode)
	if err != nil {
		return StepResult{Err: err.Error()}
	}

	t.history = append(t.history, Turn{Role: "user", Text: userResponse})

	result, err := t.interpreter.Process(ctx, t.cfg, node, t.vars, t.history, userResponse, "test-call")
	step := StepResult{
		NodeID:       node.ID,
		NodeLabel:    nodeLabel(node),
		UserResponse: userResponse,
		Variables:    cloneVars(t.vars),
	}
	if err != nil {
		step.Err = err.Error()
		return step
	}

	step.ResponseText = result.ResponseText
	step.NextNodeID = result.NextNodeID
	step.ShouldEndCall = result.ShouldEndCall
	step.Transferred = result.TransferRequested

	if result.ResponseText != "" {
		t.history = append(t.history, Turn{Role: "assistant", Text: result.ResponseText, NodeID: node.ID})
	}
	if !result.Stay && result.NextNodeID != "" {
		t.currentNode = result.NextNodeID
	} else {
		t.currentNode = node.ID
	}
	return step
}

// TestSingleNode runs node in isolation against one simulated response,
// without mutating the Tester's running state — useful for unit-testing a
// single node definition while authoring a flow.
func TestSingleNode(ctx context.Context, interpreter *Interpreter, node Node, userResponse string, initialVars Variables) StepResult {
	vars := cloneVars(initialVars)
	history := []Turn{{Role: "user", Text: userResponse}}

	result, err := interpreter.Process(ctx, nil, node, vars, history, userResponse, "test-call")
	step := StepResult{
		NodeID:       node.ID,
		NodeLabel:    nodeLabel(node),
		UserResponse: userResponse,
		Variables:    vars,
	}
	if err != nil {
		step.Err = err.Error()
		return step
	}
	step.ResponseText = result.ResponseText
	step.NextNodeID = result.NextNodeID
	step.ShouldEndCall = result.ShouldEndCall
	step.Transferred = result.TransferRequested
	return step
}

func nodeLabel(n Node) string {
	if n.Label != "" {
		return n.Label
	}
	return fmt.Sprintf("(%s)", n.ID)
}

func cloneVars(v Variables) Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
