package models

import "testing"

func TestStepValidationAccepts(t *testing.T) {
	cases := []struct {
		name   string
		rule   StepValidation
		answer string
		want   bool
	}{
		{"zero value applies global floor", StepValidation{}, "ok", true},
		{"global floor rejects one char", StepValidation{}, "a", false},
		{"global floor counts characters not bytes", StepValidation{}, "ã", false},
		{"min length met", StepValidation{MinLength: 10}, "Fui demitida", true},
		{"min length counts characters not bytes", StepValidation{MinLength: 10}, "çãçãçã", false},
		{"accented answer over threshold", StepValidation{MinLength: 10}, "ação náutica", true},
		{"min tokens rejects single word", StepValidation{MinTokens: 2}, "Maria", false},
		{"min tokens met", StepValidation{MinTokens: 2}, "Maria Silva", true},
		{"surrounding whitespace ignored", StepValidation{MinLength: 5}, "  oi  ", false},
	}
	for _, c := range cases {
		if got := c.rule.Accepts(c.answer); got != c.want {
			t.Errorf("%s: Accepts(%q) = %v, want %v", c.name, c.answer, got, c.want)
		}
	}
}
