package flow

import (
	"strconv"
	"strings"
)

// Variables is the session_variables map: string keys to string, number,
// boolean, or opaque JSON-decoded values.
type Variables map[string]any

// varCustomerName and varCallerName are the two variable names that must
// always carry the same value whenever either is set.
const (
	varCustomerName = "customer_name"
	varCallerName   = "callerName"
)

// Set stores value under name, applying the customer_name/callerName
// bidirectional-sync invariant (§3, §4.4.5).
func (v Variables) Set(name string, value any) {
	v[name] = value
	switch name {
	case varCustomerName:
		v[varCallerName] = value
	case varCallerName:
		v[varCustomerName] = value
	}
}

// Exists reports whether name is present and non-nil.
func (v Variables) Exists(name string) bool {
	val, ok := v[name]
	return ok && val != nil
}

// MissingMandatory returns the subset of specs whose Name is mandatory and
// not yet present in v.
func MissingMandatory(specs []ExtractVariableSpec, v Variables) []ExtractVariableSpec {
	var missing []ExtractVariableSpec
	for _, s := range specs {
		if s.Mandatory && !v.Exists(s.Name) {
			missing = append(missing, s)
		}
	}
	return missing
}

// ParseNumericShorthand parses numeric strings used in logic_split
// conditions and LLM-produced variable values, accepting plain numerics and
// the shorthand forms "10k", "$10,000", "1.2m", "500,000".
func ParseNumericShorthand(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}

	mult := 1.0
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, "k"):
		mult = 1_000
		s = s[:len(s)-1]
	case strings.HasSuffix(lower, "m"):
		mult = 1_000_000
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

// EvalCondition evaluates a single logic_split LogicCondition against v.
// Supported operators: equals, not_equals, contains, greater_than, less_than,
// greater_than_or_equal, less_than_or_equal, exists, not_exists, starts_with,
// ends_with.
func EvalCondition(cond LogicCondition, v Variables) bool {
	switch cond.Operator {
	case "exists":
		return v.Exists(cond.Variable)
	case "not_exists":
		return !v.Exists(cond.Variable)
	}

	val, ok := v[cond.Variable]
	if !ok || val == nil {
		return false
	}
	valStr := toString(val)

	switch cond.Operator {
	case "equals":
		return valStr == cond.Value
	case "not_equals":
		return valStr != cond.Value
	case "contains":
		return strings.Contains(valStr, cond.Value)
	case "starts_with":
		return strings.HasPrefix(valStr, cond.Value)
	case "ends_with":
		return strings.HasSuffix(valStr, cond.Value)
	case "greater_than", "less_than", "greater_than_or_equal", "less_than_or_equal":
		a, aok := ParseNumericShorthand(valStr)
		b, bok := ParseNumericShorthand(cond.Value)
		if !aok || !bok {
			return false
		}
		switch cond.Operator {
		case "greater_than":
			return a > b
		case "less_than":
			return a < b
		case "greater_than_or_equal":
			return a >= b
		case "less_than_or_equal":
			return a <= b
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Substitute replaces {{var}} occurrences in template with values from v,
// used for conversation-node script rendering and webhook template bodies.
func Substitute(template string, v Variables) string {
	var b strings.Builder
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "{{")
		if start == -1 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			b.WriteString(template[start:])
			break
		}
		end += start

		name := strings.TrimSpace(template[start+2 : end])
		if val, ok := v[name]; ok {
			b.WriteString(toString(val))
		}
		i = end + 2
	}
	return b.String()
}
