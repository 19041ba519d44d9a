package flow

import "testing"

func TestVariables_SetSyncsCustomerCallerName(t *testing.T) {
	v := Variables{}
	v.Set("customer_name", "Alice")
	if v["callerName"] != "Alice" {
		t.Errorf("callerName = %v, want Alice", v["callerName"])
	}

	v.Set("callerName", "Bob")
	if v["customer_name"] != "Bob" {
		t.Errorf("customer_name = %v, want Bob", v["customer_name"])
	}
}

func TestVariables_Exists(t *testing.T) {
	v := Variables{"a": "x", "b": nil}
	if !v.Exists("a") {
		t.Error("expected a to exist")
	}
	if v.Exists("b") {
		t.Error("expected nil-valued b to not exist")
	}
	if v.Exists("c") {
		t.Error("expected missing c to not exist")
	}
}

func TestMissingMandatory(t *testing.T) {
	specs := []ExtractVariableSpec{
		{Name: "email", Mandatory: true},
		{Name: "phone", Mandatory: false},
		{Name: "name", Mandatory: true},
	}
	v := Variables{"name": "Alice"}
	missing := MissingMandatory(specs, v)
	if len(missing) != 1 || missing[0].Name != "email" {
		t.Errorf("missing = %+v, want [email]", missing)
	}
}

func TestParseNumericShorthand(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantOk  bool
	}{
		{"10k", 10000, true},
		{"1.2m", 1200000, true},
		{"$10,000", 10000, true},
		{"500,000", 500000, true},
		{"42", 42, true},
		{"not-a-number", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseNumericShorthand(c.in)
		if ok != c.wantOk {
			t.Errorf("ParseNumericShorthand(%q) ok = %v, want %v", c.in, ok, c.wantOk)
			continue
		}
		if ok && got != c.want {
			t.Errorf("ParseNumericShorthand(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEvalCondition(t *testing.T) {
	v := Variables{"budget": "15k", "name": "Alice"}
	cases := []struct {
		cond LogicCondition
		want bool
	}{
		{LogicCondition{Variable: "name", Operator: "equals", Value: "Alice"}, true},
		{LogicCondition{Variable: "name", Operator: "not_equals", Value: "Bob"}, true},
		{LogicCondition{Variable: "name", Operator: "contains", Value: "lic"}, true},
		{LogicCondition{Variable: "budget", Operator: "greater_than", Value: "10000"}, true},
		{LogicCondition{Variable: "budget", Operator: "less_than", Value: "10000"}, false},
		{LogicCondition{Variable: "missing", Operator: "exists"}, false},
		{LogicCondition{Variable: "missing", Operator: "not_exists"}, true},
		{LogicCondition{Variable: "name", Operator: "starts_with", Value: "Al"}, true},
		{LogicCondition{Variable: "name", Operator: "ends_with", Value: "ce"}, true},
	}
	for _, c := range cases {
		if got := EvalCondition(c.cond, v); got != c.want {
			t.Errorf("EvalCondition(%+v) = %v, want %v", c.cond, got, c.want)
		}
	}
}

func TestSubstitute(t *testing.T) {
	v := Variables{"customer_name": "Alice", "amount": 42.5}
	got := Substitute("Hi {{customer_name}}, your total is {{amount}}. {{missing}} stays empty.", v)
	want := "Hi Alice, your total is 42.5.  stays empty."
	if got != want {
		t.Errorf("Substitute = %q, want %q", got, want)
	}
}

func TestSubstitute_UnterminatedPlaceholder(t *testing.T) {
	v := Variables{"x": "y"}
	got := Substitute("prefix {{x", v)
	if got != "prefix {{x" {
		t.Errorf("Substitute = %q, want unchanged literal tail", got)
	}
}
