package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Radicalscale/virevo/pkg/provider/llm"
	"github.com/Radicalscale/virevo/pkg/types"
)

// TurnResult is what processing one node against one user turn produces.
type TurnResult struct {
	ResponseText         string
	NextNodeID           string
	Stay                 bool
	ShouldEndCall        bool
	TransferRequested    bool
	TransferDestination  string
	HandoffLine          string
	SMSRequested         bool
	ExecutingWebhookSpan bool // true only while the caller should suspend dead-air tracking
}

// digitPattern matches a single DTMF digit in free user text for press_digit nodes.
var digitPattern = regexp.MustCompile(`[0-9*#]`)

// Process implements §4.4.2-4.4.4: applies the mandatory-variable precheck,
// runs node-type-specific handling, and returns the turn's outcome.
func (in *Interpreter) Process(ctx context.Context, cfg *AgentConfig, node Node, vars Variables, history []Turn, userMessage, callID string) (TurnResult, error) {
	switch node.Type {
	case NodeConversation:
		return in.processConversation(ctx, cfg, node, vars, history, userMessage)
	case NodeFunction:
		return in.processFunction(ctx, node, vars, history, userMessage, callID)
	case NodeLogicSplit:
		return in.processLogicSplit(node, vars)
	case NodeCollectInput:
		return in.processCollectInput(node, vars, userMessage)
	case NodePressDigit:
		return in.processPressDigit(node, userMessage)
	case NodeExtractVariable:
		return in.processExtractVariable(ctx, node, vars, history, userMessage)
	case NodeCallTransfer, NodeAgentTransfer:
		return in.processTransfer(node)
	case NodeSendSMS:
		return in.processSendSMS(node, vars)
	case NodeEnding:
		return in.processEnding(node, vars)
	default:
		return TurnResult{}, fmt.Errorf("flow: unhandled node type %q", node.Type)
	}
}

func (in *Interpreter) processConversation(ctx context.Context, cfg *AgentConfig, node Node, vars Variables, history []Turn, userMessage string) (TurnResult, error) {
	data, err := node.Conversation()
	if err != nil {
		return TurnResult{}, err
	}

	if !data.SkipMandatoryPrecheck {
		missing := MissingMandatory(data.ExtractVariables, vars)
		if len(missing) > 0 {
			ExtractVariables(ctx, in.llm, missing, vars, history, userMessage)
			if still := MissingMandatory(data.ExtractVariables, vars); len(still) > 0 {
				return TurnResult{ResponseText: repromptText(still[0]), Stay: true}, nil
			}
		} else {
			// Nothing mandatory is missing, so extraction does not gate the
			// response (§4.4.5): run it in the background, concurrently with
			// the response being rendered and spoken.
			llmProvider, specs := in.llm, data.ExtractVariables
			go ExtractVariables(context.Background(), llmProvider, specs, vars, history, userMessage)
		}
	}

	if data.AutoTransitionAfterResp {
		text, err := in.renderConversation(ctx, cfg, node, data, vars, userMessage)
		if err != nil {
			return TurnResult{}, err
		}
		return TurnResult{ResponseText: text, NextNodeID: data.AutoTransitionTo}, nil
	}
	if data.AutoTransitionTo != "" {
		return TurnResult{NextNodeID: data.AutoTransitionTo}, nil
	}

	next, stay := in.EvaluateTransitions(ctx, data.Transitions, history, vars, nil, data.Goal, data.Mode == "script")
	if stay {
		text, err := in.rephraseOrAcknowledge(ctx, data, history)
		if err != nil {
			return TurnResult{}, err
		}
		return TurnResult{ResponseText: text, Stay: true}, nil
	}

	text, err := in.renderConversation(ctx, cfg, node, data, vars, userMessage)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{ResponseText: text, NextNodeID: next}, nil
}

// renderConversation produces the node's spoken text: script mode does
// {{var}} substitution; prompt mode invokes the LLM with the node's
// instruction as dynamic context.
func (in *Interpreter) renderConversation(ctx context.Context, cfg *AgentConfig, node Node, data ConversationData, vars Variables, userMessage string) (string, error) {
	if data.Mode == "prompt" {
		return in.promptCompletion(ctx, cfg, data.Goal, data.scriptOrContent(), vars, userMessage)
	}
	return Substitute(data.scriptOrContent(), vars), nil
}

// promptCompletion invokes the LLM for a prompt-mode node. When cfg and a
// knowledge router are available, retrieved knowledge-base snippets (§4.8)
// are appended to the instruction regardless of agent type — call-flow
// prompt-mode nodes get the same treatment as the single-prompt policy.
func (in *Interpreter) promptCompletion(ctx context.Context, cfg *AgentConfig, goal, instruction string, vars Variables, userMessage string) (string, error) {
	if in.llm == nil {
		return Substitute(instruction, vars), nil
	}
	var b strings.Builder
	if goal != "" {
		b.WriteString("Goal: ")
		b.WriteString(goal)
		b.WriteString("\n")
	}
	b.WriteString("Instruction: ")
	b.WriteString(Substitute(instruction, vars))

	if in.knowl != nil && cfg != nil {
		chunks := in.knowl.Retrieve(ctx, cfg.ID, cfg.HasKnowledgeBase, userMessage)
		if len(chunks) > 0 {
			b.WriteString("\n\nRelevant information:\n")
			for _, c := range chunks {
				b.WriteString("- ")
				b.WriteString(c.Content)
				b.WriteString("\n")
			}
		}
	}

	resp, err := in.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: b.String()}},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("flow: prompt-mode completion: %w", err)
	}
	return resp.Content, nil
}

// rephraseOrAcknowledge implements the "stay on script node" branch of
// §4.4.4: a dynamic rephrase or a brief acknowledgment, never empty.
func (in *Interpreter) rephraseOrAcknowledge(ctx context.Context, data ConversationData, history []Turn) (string, error) {
	if in.llm == nil {
		return data.scriptOrContent(), nil
	}

	var prompt string
	if data.DynamicRephrase {
		p := data.RephrasePrompt
		if p == "" {
			p = "Briefly rephrase the following question in a new way, acknowledging what the user just said."
		}
		prompt = fmt.Sprintf("%s\n\nOriginal question: %s\n", p, data.scriptOrContent())
	} else {
		prompt = fmt.Sprintf("Give a brief one-sentence acknowledgment, then restate this question: %s", data.scriptOrContent())
	}
	for _, t := range lastN(history, 3) {
		prompt += fmt.Sprintf("\n%s: %s", t.Role, t.Text)
	}

	resp, err := in.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []types.Message{{Role: "user", Content: prompt}},
		Temperature: 0.7,
		MaxTokens:   120,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return data.scriptOrContent(), nil
	}
	return resp.Content, nil
}

func repromptText(spec ExtractVariableSpec) string {
	if spec.PromptMessage != "" {
		return spec.PromptMessage
	}
	if spec.RepromptText != "" {
		return spec.RepromptText
	}
	return fmt.Sprintf("Could you tell me your %s?", spec.Name)
}

func (in *Interpreter) processFunction(ctx context.Context, node Node, vars Variables, history []Turn, userMessage, callID string) (TurnResult, error) {
	data, err := node.Function()
	if err != nil {
		return TurnResult{}, err
	}
	if in.webhook == nil {
		return TurnResult{}, fmt.Errorf("flow: function node %s has no webhook executor configured", node.ID)
	}

	filler := ""
	if data.SpeakDuringExec {
		if data.DialogueType == "prompt" {
			filler, _ = in.promptCompletion(ctx, nil, "", data.DialogueText, vars, userMessage)
		} else {
			filler = Substitute(data.DialogueText, vars)
		}
	}

	if !data.WaitForResult {
		go func() {
			bgCtx := context.Background()
			_, _ = in.webhook.Execute(bgCtx, data, vars, userMessage, callID)
		}()
		return TurnResult{ResponseText: filler, NextNodeID: "", Stay: true}, nil
	}

	result, err := in.webhook.Execute(ctx, data, vars, userMessage, callID)
	if err != nil {
		return TurnResult{ResponseText: filler, Stay: true}, nil
	}
	if result.RequiresReprompt {
		return TurnResult{ResponseText: result.RepromptMessage, Stay: true}, nil
	}

	PromoteVariables(vars, data.ResponseVariable, result.Response)

	next, stay := in.EvaluateTransitions(ctx, data.Transitions, history, vars, result.Response, "", false)
	if stay {
		return TurnResult{ResponseText: filler, Stay: true}, nil
	}
	return TurnResult{ResponseText: filler, NextNodeID: next}, nil
}

func (in *Interpreter) processLogicSplit(node Node, vars Variables) (TurnResult, error) {
	data, err := node.LogicSplit()
	if err != nil {
		return TurnResult{}, err
	}
	for _, cond := range data.Conditions {
		if EvalCondition(cond, vars) {
			return TurnResult{NextNodeID: cond.NextNode}, nil
		}
	}
	if data.DefaultNextNode != "" {
		return TurnResult{NextNodeID: data.DefaultNextNode}, nil
	}
	return TurnResult{Stay: true}, nil
}

func (in *Interpreter) processCollectInput(node Node, vars Variables, userMessage string) (TurnResult, error) {
	data, err := node.CollectInput()
	if err != nil {
		return TurnResult{}, err
	}
	value, ok := validateInput(data.InputType, userMessage)
	if !ok {
		msg := data.ErrorMessage
		if msg == "" {
			msg = "Sorry, I didn't catch that — could you repeat it?"
		}
		return TurnResult{ResponseText: msg, Stay: true}, nil
	}
	vars.Set(data.VariableName, value)

	for _, t := range data.Transitions {
		if transitionEligible(t, vars) {
			return TurnResult{NextNodeID: t.NextNode}, nil
		}
	}
	return TurnResult{Stay: true}, nil
}

func validateInput(inputType, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	switch inputType {
	case "email":
		if !strings.Contains(raw, "@") || !strings.Contains(raw, ".") {
			return "", false
		}
	case "phone":
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' || r == '+' {
				return r
			}
			return -1
		}, raw)
		if len(digits) < 7 {
			return "", false
		}
		return digits, true
	case "number":
		if _, ok := ParseNumericShorthand(raw); !ok {
			return "", false
		}
	}
	return raw, true
}

func (in *Interpreter) processPressDigit(node Node, userMessage string) (TurnResult, error) {
	data, err := node.PressDigit()
	if err != nil {
		return TurnResult{}, err
	}
	digit := digitPattern.FindString(userMessage)
	if digit == "" {
		return TurnResult{ResponseText: data.PromptMessage, Stay: true}, nil
	}
	if next, ok := data.DigitMappings[digit]; ok {
		return TurnResult{NextNodeID: next}, nil
	}
	return TurnResult{ResponseText: data.PromptMessage, Stay: true}, nil
}

func (in *Interpreter) processExtractVariable(ctx context.Context, node Node, vars Variables, history []Turn, userMessage string) (TurnResult, error) {
	data, err := node.ExtractVariable()
	if err != nil {
		return TurnResult{}, err
	}
	spec := ExtractVariableSpec{Name: data.VariableName, Description: data.ExtractionPrompt, Mandatory: true}
	ExtractVariables(ctx, in.llm, []ExtractVariableSpec{spec}, vars, history, userMessage)

	if !vars.Exists(data.VariableName) {
		return TurnResult{Stay: true}, nil
	}
	for _, t := range data.Transitions {
		if transitionEligible(t, vars) {
			return TurnResult{NextNodeID: t.NextNode}, nil
		}
	}
	return TurnResult{Stay: true}, nil
}

func (in *Interpreter) processTransfer(node Node) (TurnResult, error) {
	data, err := node.Transfer()
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		ResponseText:        data.HandoffLine,
		TransferRequested:   true,
		TransferDestination: data.Destination,
		HandoffLine:         data.HandoffLine,
	}, nil
}

func (in *Interpreter) processSendSMS(node Node, vars Variables) (TurnResult, error) {
	data, err := node.SendSMS()
	if err != nil {
		return TurnResult{}, err
	}
	vars.Set("sms_to", Substitute(data.To, vars))
	vars.Set("sms_body", Substitute(data.Body, vars))
	for _, t := range data.Transitions {
		if transitionEligible(t, vars) {
			return TurnResult{SMSRequested: true, NextNodeID: t.NextNode}, nil
		}
	}
	return TurnResult{SMSRequested: true, Stay: true}, nil
}

func (in *Interpreter) processEnding(node Node, vars Variables) (TurnResult, error) {
	data, err := node.Ending()
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{ResponseText: Substitute(data.Content, vars), ShouldEndCall: true}, nil
}
