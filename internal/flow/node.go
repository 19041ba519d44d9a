// Package flow implements the call-flow interpreter (C4): node selection,
// transition evaluation, variable extraction, and the per-node-type
// processing rules of a call-flow agent.
package flow

import (
	"encoding/json"
	"fmt"
)

// NodeType enumerates the call-flow node kinds.
type NodeType string

const (
	NodeStart           NodeType = "start"
	NodeConversation    NodeType = "conversation"
	NodeLogicSplit      NodeType = "logic_split"
	NodeFunction        NodeType = "function"
	NodeCollectInput    NodeType = "collect_input"
	NodePressDigit      NodeType = "press_digit"
	NodeExtractVariable NodeType = "extract_variable"
	NodeCallTransfer    NodeType = "call_transfer"
	NodeAgentTransfer   NodeType = "agent_transfer"
	NodeEnding          NodeType = "ending"
	NodeSendSMS         NodeType = "send_sms"
)

// Node is a tagged-variant call-flow node: Type selects which typed struct
// Data decodes into. Decoding is lazy (via the Conversation/Function/…
// accessor methods) so a Node can be stored and passed around cheaply before
// its type-specific fields are needed.
type Node struct {
	ID    string          `json:"id"`
	Type  NodeType        `json:"type"`
	Label string          `json:"label"`
	Data  json.RawMessage `json:"data"`
}

// Transition describes one outgoing edge from a node.
type Transition struct {
	Condition      string   `json:"condition"`
	NextNode       string   `json:"nextNode"`
	CheckVariables []string `json:"check_variables,omitempty"`
}

// ExtractVariableSpec describes a single variable the interpreter should
// extract from user speech.
type ExtractVariableSpec struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ExtractionHint string `json:"extraction_hint,omitempty"`
	Mandatory      bool   `json:"mandatory,omitempty"`
	AllowUpdate    bool   `json:"allow_update,omitempty"`
	RepromptText   string `json:"reprompt_text,omitempty"`
	RepromptType   string `json:"reprompt_type,omitempty"` // "static" | "prompt"
	PromptMessage  string `json:"prompt_message,omitempty"`
}

// ConversationData holds the type-specific fields of a conversation node.
type ConversationData struct {
	Mode                       string                `json:"mode,omitempty"` // "script" | "prompt"
	Script                     string                `json:"script,omitempty"`
	Content                    string                `json:"content,omitempty"`
	Goal                       string                `json:"goal,omitempty"`
	DynamicRephrase            bool                  `json:"dynamic_rephrase,omitempty"`
	RephrasePrompt             string                `json:"rephrase_prompt,omitempty"`
	ExtractVariables           []ExtractVariableSpec `json:"extract_variables,omitempty"`
	AutoTransitionTo           string                `json:"auto_transition_to,omitempty"`
	AutoTransitionAfterResp    bool                  `json:"auto_transition_after_response,omitempty"`
	SkipMandatoryPrecheck      bool                  `json:"skip_mandatory_precheck,omitempty"`
	UseParallelLLM             bool                  `json:"use_parallel_llm,omitempty"`
	Transitions                []Transition          `json:"transitions,omitempty"`
}

// scriptOrContent returns whichever of Script/Content carries the node's text.
func (c ConversationData) scriptOrContent() string {
	if c.Script != "" {
		return c.Script
	}
	return c.Content
}

// FunctionData holds the type-specific fields of a webhook-calling function node.
type FunctionData struct {
	WebhookURL        string                `json:"webhook_url"`
	WebhookMethod     string                `json:"webhook_method,omitempty"`
	WebhookHeaders    map[string]string     `json:"webhook_headers,omitempty"`
	WebhookBody       json.RawMessage       `json:"webhook_body,omitempty"`
	WebhookTimeoutSec int                   `json:"webhook_timeout,omitempty"`
	WebhookMaxRetries int                   `json:"webhook_max_retries,omitempty"`
	ResponseVariable  string                `json:"response_variable,omitempty"`
	SpeakDuringExec   bool                  `json:"speak_during_execution,omitempty"`
	DialogueText      string                `json:"dialogue_text,omitempty"`
	DialogueType      string                `json:"dialogue_type,omitempty"` // "static" | "prompt"
	WaitForResult     bool                  `json:"wait_for_result"`
	ExtractVariables  []ExtractVariableSpec `json:"extract_variables,omitempty"`
	Transitions       []Transition          `json:"transitions,omitempty"`
}

// LogicCondition is a single branch of a logic_split node.
type LogicCondition struct {
	Variable string `json:"variable"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	NextNode string `json:"nextNode"`
}

// LogicSplitData holds the type-specific fields of a logic_split node.
type LogicSplitData struct {
	Conditions      []LogicCondition `json:"conditions"`
	DefaultNextNode string           `json:"default_next_node,omitempty"`
}

// PressDigitData holds the type-specific fields of a press_digit node.
type PressDigitData struct {
	PromptMessage string            `json:"prompt_message"`
	DigitMappings map[string]string `json:"digit_mappings"`
}

// CollectInputData holds the type-specific fields of a collect_input node.
type CollectInputData struct {
	InputType    string `json:"input_type"` // "text" | "email" | "phone" | "number"
	VariableName string `json:"variable_name"`
	Prompt       string `json:"prompt,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Transitions  []Transition `json:"transitions,omitempty"`
}

// ExtractVariableData holds the type-specific fields of a standalone
// extract_variable node (as opposed to extraction attached to a conversation
// or function node).
type ExtractVariableData struct {
	VariableName     string       `json:"variable_name"`
	ExtractionPrompt string       `json:"extraction_prompt"`
	Transitions      []Transition `json:"transitions,omitempty"`
}

// TransferData holds the type-specific fields of call_transfer / agent_transfer nodes.
type TransferData struct {
	Destination string `json:"destination,omitempty"`
	HandoffLine string `json:"handoff_line,omitempty"`
}

// SendSMSData holds the type-specific fields of a send_sms node.
type SendSMSData struct {
	To          string `json:"to"`
	Body        string `json:"body"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// EndingData holds the type-specific fields of an ending node.
type EndingData struct {
	Content string `json:"content"`
}

// StartData holds the type-specific fields of the start node.
type StartData struct {
	WhoSpeaksFirst string `json:"whoSpeaksFirst"` // "ai" | "user"
}

// Conversation decodes Data as ConversationData. Callers must check Type first.
func (n Node) Conversation() (ConversationData, error) {
	var d ConversationData
	err := decode(n.Data, &d)
	return d, err
}

// Function decodes Data as FunctionData.
func (n Node) Function() (FunctionData, error) {
	var d FunctionData
	err := decode(n.Data, &d)
	return d, err
}

// LogicSplit decodes Data as LogicSplitData.
func (n Node) LogicSplit() (LogicSplitData, error) {
	var d LogicSplitData
	err := decode(n.Data, &d)
	return d, err
}

// PressDigit decodes Data as PressDigitData.
func (n Node) PressDigit() (PressDigitData, error) {
	var d PressDigitData
	err := decode(n.Data, &d)
	return d, err
}

// CollectInput decodes Data as CollectInputData.
func (n Node) CollectInput() (CollectInputData, error) {
	var d CollectInputData
	err := decode(n.Data, &d)
	return d, err
}

// ExtractVariable decodes Data as ExtractVariableData.
func (n Node) ExtractVariable() (ExtractVariableData, error) {
	var d ExtractVariableData
	err := decode(n.Data, &d)
	return d, err
}

// Transfer decodes Data as TransferData.
func (n Node) Transfer() (TransferData, error) {
	var d TransferData
	err := decode(n.Data, &d)
	return d, err
}

// SendSMS decodes Data as SendSMSData.
func (n Node) SendSMS() (SendSMSData, error) {
	var d SendSMSData
	err := decode(n.Data, &d)
	return d, err
}

// Ending decodes Data as EndingData.
func (n Node) Ending() (EndingData, error) {
	var d EndingData
	err := decode(n.Data, &d)
	return d, err
}

// Start decodes Data as StartData.
func (n Node) Start() (StartData, error) {
	var d StartData
	err := decode(n.Data, &d)
	return d, err
}

func decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("flow: decode node data: %w", err)
	}
	return nil
}
