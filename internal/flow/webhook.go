package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// reservedResponseKeys are never promoted to session_variables (§4.7 step 5).
var reservedResponseKeys = map[string]bool{
	"success":            true,
	"message":            true,
	"error":              true,
	"status":             true,
	"response_type":      true,
	"tool_calls_results": true,
	"raw_response":       true,
}

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultWebhookRetry   = 30 * time.Second
)

// WebhookResult is what a function node's webhook invocation yields.
type WebhookResult struct {
	RequiresReprompt bool
	RepromptMessage  string
	Response         any // the (possibly unwrapped) decoded JSON response
}

// WebhookExecutor performs the HTTP egress for function nodes (§4.7). It
// holds one persistent pooled *http.Client shared across all invocations.
type WebhookExecutor struct {
	http *http.Client
}

// NewWebhookExecutor constructs an executor over a pooled client. Pass nil
// to get a client configured with the module's standard pool sizing.
func NewWebhookExecutor(client *http.Client) *WebhookExecutor {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				MaxConnsPerHost:     100,
			},
		}
	}
	return &WebhookExecutor{http: client}
}

// Execute runs the full §4.7 pipeline for a function node.
func (w *WebhookExecutor) Execute(ctx context.Context, data FunctionData, vars Variables, userMessage, callID string) (WebhookResult, error) {
	for _, spec := range data.ExtractVariables {
		if spec.Mandatory && !vars.Exists(spec.Name) {
			msg := spec.RepromptText
			if msg == "" {
				msg = fmt.Sprintf("Could you provide your %s?", spec.Name)
			}
			return WebhookResult{RequiresReprompt: true, RepromptMessage: msg}, nil
		}
	}

	body := buildWebhookBody(data.WebhookBody, vars, userMessage, callID)

	timeout := time.Duration(data.WebhookTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	respBody, status, err := w.invoke(ctx, data, body, timeout)
	if err != nil && isTimeout(err) {
		respBody, status, err = w.invoke(ctx, data, body, defaultWebhookRetry)
	}
	if err != nil {
		return WebhookResult{}, fmt.Errorf("flow: webhook invocation: %w", err)
	}
	_ = status

	parsed := parseResponse(respBody)
	return WebhookResult{Response: parsed}, nil
}

func (w *WebhookExecutor) invoke(ctx context.Context, data FunctionData, body []byte, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := data.WebhookMethod
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, data.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range data.WebhookHeaders {
		req.Header.Set(k, v)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeouter); ok {
			return t.Timeout()
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// buildWebhookBody implements §4.7 step 2.
func buildWebhookBody(schemaOrTemplate json.RawMessage, vars Variables, userMessage, callID string) []byte {
	if isJSONSchemaObject(schemaOrTemplate) {
		var schema struct {
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if err := json.Unmarshal(schemaOrTemplate, &schema); err == nil {
			out := make(map[string]any, len(schema.Properties))
			for name := range schema.Properties {
				if v, ok := vars[name]; ok {
					out[name] = v
				} else {
					out[name] = nil
				}
			}
			if raw, err := json.Marshal(out); err == nil {
				return raw
			}
		}
	}

	tmpl := string(schemaOrTemplate)
	tmpl = strings.Trim(tmpl, "\"")
	withVars := Variables{}
	for k, v := range vars {
		withVars[k] = v
	}
	withVars["user_message"] = userMessage
	withVars["call_id"] = callID
	return []byte(Substitute(tmpl, withVars))
}

func isJSONSchemaObject(raw json.RawMessage) bool {
	var probe struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Type == "object" && probe.Properties != nil
}

var jsonSpanPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseResponse implements §4.7 step 4: strict JSON, then lenient, then
// regex-extracted span, then raw string fallback. It also unwraps the
// data/result/tool_calls_results[0].result markdown-fenced-JSON nesting.
func parseResponse(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return unwrapNested(v)
	}

	lenient := strings.TrimSpace(string(raw))
	lenient = strings.Trim(lenient, "`")
	if err := json.Unmarshal([]byte(lenient), &v); err == nil {
		return unwrapNested(v)
	}

	if span := jsonSpanPattern.Find(raw); span != nil {
		if err := json.Unmarshal(span, &v); err == nil {
			return unwrapNested(v)
		}
	}

	return map[string]any{"raw_response": string(raw)}
}

func unwrapNested(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if data, ok := m["data"]; ok {
		return data
	}
	if result, ok := m["result"]; ok {
		return result
	}
	if calls, ok := m["tool_calls_results"].([]any); ok && len(calls) > 0 {
		if first, ok := calls[0].(map[string]any); ok {
			if resultStr, ok := first["result"].(string); ok {
				if extracted := extractFencedJSON(resultStr); extracted != nil {
					return extracted
				}
			}
		}
	}
	return m
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

func extractFencedJSON(s string) any {
	match := fencedJSONPattern.FindStringSubmatch(s)
	if match == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(match[1]), &v); err != nil {
		return nil
	}
	return v
}

// PromoteVariables implements §4.7 step 5: stores the full response under
// responseVar (defaulting to webhook_response) and promotes non-reserved
// top-level fields of a map-shaped response into vars.
func PromoteVariables(vars Variables, responseVar string, response any) {
	if responseVar == "" {
		responseVar = "webhook_response"
	}
	vars.Set(responseVar, response)

	m, ok := response.(map[string]any)
	if !ok {
		return
	}
	for k, v := range m {
		if reservedResponseKeys[k] {
			continue
		}
		vars.Set(k, v)
	}
}
