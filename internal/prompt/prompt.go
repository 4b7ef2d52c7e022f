// Package prompt renders stage-specific question-generation prompts.
// Build is pure and deterministic: identical inputs always produce an
// identical prompt and no I/O is performed.
package prompt

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/talentscout/interviewer/internal/persona"
)

//go:embed templates/*.md
var templates embed.FS

const defaultWindowBudget = 4000

// WindowEntry is one recent transcript turn eligible for prompt injection.
type WindowEntry struct {
	Role string
	Text string
}

// Profile carries the candidate fields a template may reference.
type Profile struct {
	Name            string
	Email           string
	Position        string
	ExperienceYears float64
	TechStack       []string
}

// Input is everything Build needs to render one prompt.
type Input struct {
	Stage   string
	Persona *persona.Persona
	Profile Profile
	Window  []WindowEntry
	// Target is the profile field being collected or the focus technology
	// of the next technical question, depending on the stage.
	Target string
	// WindowBudget bounds the rendered context window in characters.
	// Oldest entries are dropped first; the most recent always survives.
	WindowBudget int
}

// Build renders the template for the given stage. A missing template or nil
// persona is a configuration problem and fails loudly.
func Build(in Input) (string, error) {
	if in.Persona == nil {
		return "", fmt.Errorf("persona is required")
	}

	raw, err := templates.ReadFile("templates/" + in.Stage + ".md")
	if err != nil {
		return "", fmt.Errorf("no prompt template for stage %q: %w", in.Stage, err)
	}

	budget := in.WindowBudget
	if budget <= 0 {
		budget = defaultWindowBudget
	}

	replacer := strings.NewReplacer(
		"{{PERSONA_NAME}}", in.Persona.Name,
		"{{PERSONA_TITLE}}", in.Persona.Title,
		"{{PERSONA_TONE}}", toneLine(in.Persona.Tone),
		"{{PERSONA_FOCUS}}", focusLine(in.Persona),
		"{{CANDIDATE_NAME}}", orNone(in.Profile.Name),
		"{{POSITION}}", orNone(in.Profile.Position),
		"{{EXPERIENCE_YEARS}}", strconv.FormatFloat(in.Profile.ExperienceYears, 'f', -1, 64),
		"{{TECH_STACK}}", orNone(strings.Join(in.Profile.TechStack, ", ")),
		"{{TARGET}}", orNone(in.Target),
		"{{CONTEXT_WINDOW}}", renderWindow(in.Window, budget),
	)

	return strings.TrimSpace(replacer.Replace(string(raw))), nil
}

func toneLine(t persona.Tone) string {
	return fmt.Sprintf("%s verbosity, %s formality", t.Verbosity, t.Formality)
}

func focusLine(p *persona.Persona) string {
	if len(p.FocusWeights) == 0 {
		return "none"
	}

	areas := make([]string, 0, len(p.FocusWeights))
	for area := range p.FocusWeights {
		areas = append(areas, area)
	}
	// Stable order keeps Build deterministic.
	sort.Strings(areas)

	parts := make([]string, 0, len(areas))
	for _, area := range areas {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", area, p.FocusWeights[area]*100))
	}
	return strings.Join(parts, ", ")
}

// renderWindow formats the context window newest-last, dropping the oldest
// entries until the rendered text fits the character budget. The most recent
// entry is always kept, truncated if it alone exceeds the budget.
func renderWindow(window []WindowEntry, budget int) string {
	if len(window) == 0 {
		return "(no prior conversation)"
	}

	lines := make([]string, len(window))
	for i, entry := range window {
		lines[i] = fmt.Sprintf("%s: %s", entry.Role, entry.Text)
	}

	start := 0
	for start < len(lines)-1 && joinedLen(lines[start:]) > budget {
		start++
	}

	joined := strings.Join(lines[start:], "\n")
	if len(joined) > budget {
		cut := len(joined) - budget
		// Never split a rune; the head of the prompt must stay valid UTF-8.
		for cut < len(joined) && !utf8.RuneStart(joined[cut]) {
			cut++
		}
		joined = joined[cut:]
	}
	return joined
}

func joinedLen(lines []string) int {
	n := 0
	for _, line := range lines {
		n += len(line) + 1
	}
	return n - 1
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
