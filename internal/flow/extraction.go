package flow

import (
	"context"
	"strings"
	"time"

	"github.com/Radicalscale/virevo/pkg/provider/llm"
	"github.com/Radicalscale/virevo/pkg/types"
)

const (
	extractionTimeout = 1 * time.Second
	notFoundSentinel  = "NOT_FOUND"
)

// extractionRules is appended to every extraction prompt, enforcing §4.4.5's
// rigid rules so the model does not invent values.
const extractionRules = `Rules:
- Never invent a value the user did not state.
- Perform explicit arithmetic when the field description asks for it (e.g. monthly = yearly / 12).
- Normalize monetary amounts to plain integers (no currency symbols, commas, or k/m suffixes).
- Treat "sure", "yeah", "yes", "correct" as confirmation of whatever the assistant most recently proposed.
- Interpret digit run-ons like "20, uh, 4000" as a single number "24000".
- Map "morning" to AM and "afternoon"/"evening" to PM when a time-of-day is requested.
- If the value is not present in the conversation, answer exactly NOT_FOUND.`

// ExtractVariables runs §4.4.5 for the given specs against history and the
// latest user message, honoring allow_update (wipes prior value first) and
// the 1s timeout / one silent retry / skip-after-two-timeouts policy.
func ExtractVariables(ctx context.Context, provider llm.Provider, specs []ExtractVariableSpec, vars Variables, history []Turn, userMessage string) {
	for _, spec := range specs {
		if vars.Exists(spec.Name) && !spec.AllowUpdate {
			continue
		}
		if spec.AllowUpdate {
			delete(vars, spec.Name)
		}

		value, ok := extractOne(ctx, provider, spec, vars, history, userMessage)
		if ok {
			vars.Set(spec.Name, value)
		}
	}
}

func extractOne(ctx context.Context, provider llm.Provider, spec ExtractVariableSpec, vars Variables, history []Turn, userMessage string) (string, bool) {
	if provider == nil {
		return "", false
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		val, err := tryExtract(ctx, provider, spec, vars, history, userMessage)
		if err == nil {
			if val == "" || strings.EqualFold(val, notFoundSentinel) {
				return "", false
			}
			return val, true
		}
		lastErr = err
	}
	_ = lastErr
	return "", false
}

func tryExtract(ctx context.Context, provider llm.Provider, spec ExtractVariableSpec, vars Variables, history []Turn, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	prompt := buildExtractionPrompt(spec, vars, history, userMessage)
	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Extract a single field value from the conversation. Reply with only the value, nothing else.",
		Messages:     []types.Message{{Role: "user", Content: prompt}},
		Temperature:  0,
		MaxTokens:    64,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func buildExtractionPrompt(spec ExtractVariableSpec, vars Variables, history []Turn, userMessage string) string {
	var b strings.Builder
	b.WriteString("Field: ")
	b.WriteString(spec.Name)
	if spec.Description != "" {
		b.WriteString(" — ")
		b.WriteString(spec.Description)
	}
	b.WriteString("\n")
	if spec.ExtractionHint != "" {
		b.WriteString("Hint: ")
		b.WriteString(spec.ExtractionHint)
		b.WriteString("\n")
	}

	b.WriteString("\nKnown variables:\n")
	for k, v := range vars {
		b.WriteString(k)
		b.WriteString(" = ")
		b.WriteString(toString(v))
		b.WriteString("\n")
	}

	b.WriteString("\nConversation:\n")
	for _, t := range lastN(history, 10) {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	b.WriteString("user: ")
	b.WriteString(userMessage)
	b.WriteString("\n\n")
	b.WriteString(extractionRules)
	return b.String()
}
