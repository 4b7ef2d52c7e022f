package ai

import (
	"strings"
	"testing"
)

func TestFallbackResolutionOrder(t *testing.T) {
	t.Parallel()

	bank := testBank(t)

	cases := []struct {
		name     string
		c        Constraints
		contains string
	}{
		{
			name:     "target field wins",
			c:        Constraints{Stage: "collecting_info", TargetField: "tech_stack"},
			contains: "separate them with commas",
		},
		{
			name:     "exact technology match",
			c:        Constraints{Stage: "technical_assessment", FocusTechnology: "go"},
			contains: "go",
		},
		{
			name:     "category match substitutes technology",
			c:        Constraints{Stage: "technical_assessment", FocusTechnology: "postgresql"},
			contains: "postgresql",
		},
		{
			name:     "stage bank",
			c:        Constraints{Stage: "behavioral_assessment"},
			contains: "",
		},
		{
			name:     "generic last resort",
			c:        Constraints{Stage: "no_such_stage", FocusTechnology: "cobol"},
			contains: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text := bank.Question(tc.c)
			if text == "" {
				t.Fatalf("fallback must never be empty")
			}
			if tc.contains != "" && !strings.Contains(strings.ToLower(text), tc.contains) {
				t.Fatalf("expected %q in fallback, got %q", tc.contains, text)
			}
			if strings.Contains(text, "{{TECH}}") {
				t.Fatalf("technology placeholder was not substituted: %q", text)
			}
		})
	}
}

func TestFallbackRotatesQuestions(t *testing.T) {
	t.Parallel()

	bank := testBank(t)
	c := Constraints{Stage: "technical_assessment", FocusTechnology: "go"}

	first := bank.Question(c)
	second := bank.Question(c)
	third := bank.Question(c)

	if first == second {
		t.Fatalf("consecutive fallbacks for the same technology should differ")
	}
	if third != first {
		t.Fatalf("rotation should wrap around, got %q then %q", first, third)
	}
}

func TestFallbackGenericForUnknownStage(t *testing.T) {
	t.Parallel()

	bank := testBank(t)
	text := bank.Question(Constraints{Stage: "xyz"})
	found := false
	for _, generic := range bank.Generic {
		if text == generic {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a generic question, got %q", text)
	}
}
