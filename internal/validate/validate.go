// Package validate checks candidate input for well-formedness and safety
// and scores free-text answers.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Flag marks a specific validation problem on an input.
type Flag string

const (
	FlagEmpty     Flag = "empty"
	FlagTooShort  Flag = "too_short"
	FlagTooLong   Flag = "too_long"
	FlagBadFormat Flag = "bad_format"
	FlagUnsafe    Flag = "unsafe"
)

// Field identifies which candidate profile field an input targets.
type Field string

const (
	FieldName       Field = "name"
	FieldEmail      Field = "email"
	FieldExperience Field = "experience"
	FieldPosition   Field = "position"
	FieldTechStack  Field = "tech_stack"
	FieldFreeText   Field = "free_text"
)

// Score holds the computed metrics for one candidate response.
// It is immutable once attached to a transcript turn.
type Score struct {
	Sentiment      float64 `json:"sentiment"`
	Quality        float64 `json:"quality"`
	TechnicalDepth float64 `json:"technical_depth"`
	Flags          []Flag  `json:"flags,omitempty"`
}

// Result is the outcome of validating a single input.
type Result struct {
	Valid  bool
	Flags  []Flag
	Reason string

	// Normalized values. Only the member matching the validated field is set.
	Value      string
	Experience float64
	TechStack  []string
}

// Config holds tunable validation limits.
type Config struct {
	MinAnswerLength int
	MaxAnswerLength int
	StackDelimiters string
	MaxStackSize    int
	MaxExperience   float64
}

const (
	defaultMinAnswerLength = 2
	defaultMaxAnswerLength = 5000
	defaultStackDelimiters = ",;|"
	defaultMaxStackSize    = 10
	defaultMaxExperience   = 60
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// unsafePatterns cover script/markup injection and attempts to override the
// interviewer's system instructions. Flagged input is recorded but never
// forwarded to the model.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script.*?>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)<(iframe|object|embed)`),
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts?)`),
	regexp.MustCompile(`(?i)disregard\s+(the\s+)?(system|previous)\s+(prompt|instructions)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?prompt`),
}

// Validator applies per-field format checks and free-text safety checks.
type Validator struct {
	cfg Config
}

// New creates a Validator, filling zero config values with defaults.
func New(cfg Config) *Validator {
	if cfg.MinAnswerLength <= 0 {
		cfg.MinAnswerLength = defaultMinAnswerLength
	}
	if cfg.MaxAnswerLength <= 0 {
		cfg.MaxAnswerLength = defaultMaxAnswerLength
	}
	if strings.TrimSpace(cfg.StackDelimiters) == "" {
		cfg.StackDelimiters = defaultStackDelimiters
	}
	if cfg.MaxStackSize <= 0 {
		cfg.MaxStackSize = defaultMaxStackSize
	}
	if cfg.MaxExperience <= 0 {
		cfg.MaxExperience = defaultMaxExperience
	}
	return &Validator{cfg: cfg}
}

// Input validates raw candidate input against the expected field.
// Empty or whitespace-only input is always invalid.
func (v *Validator) Input(field Field, raw string) Result {
	text := strings.TrimSpace(raw)
	if text == "" {
		return invalid(FlagEmpty, "the response is empty")
	}

	if unsafe(text) {
		return invalid(FlagUnsafe, "the response contains content that cannot be processed")
	}

	switch field {
	case FieldName:
		return v.name(text)
	case FieldEmail:
		return v.email(text)
	case FieldExperience:
		return v.experience(text)
	case FieldPosition:
		return v.position(text)
	case FieldTechStack:
		return v.techStack(text)
	default:
		return v.freeText(text)
	}
}

func (v *Validator) name(text string) Result {
	if len([]rune(text)) > 100 {
		return invalid(FlagTooLong, "that name looks too long")
	}
	if onlyDigits(text) {
		return invalid(FlagBadFormat, "a name cannot be just numbers")
	}
	return Result{Valid: true, Value: text}
}

func (v *Validator) email(text string) Result {
	if !emailPattern.MatchString(text) {
		return invalid(FlagBadFormat, "that does not look like a valid email address (e.g. jane@example.com)")
	}
	return Result{Valid: true, Value: strings.ToLower(text)}
}

func (v *Validator) experience(text string) Result {
	years, err := parseExperience(text)
	if err != nil {
		return invalid(FlagBadFormat, "please give your experience as a number of years (e.g. 5)")
	}
	if years < 0 || years > v.cfg.MaxExperience {
		return invalid(FlagBadFormat, fmt.Sprintf("experience must be between 0 and %.0f years", v.cfg.MaxExperience))
	}
	return Result{Valid: true, Experience: years}
}

func (v *Validator) position(text string) Result {
	if len([]rune(text)) > 200 {
		return invalid(FlagTooLong, "that position title looks too long")
	}
	return Result{Valid: true, Value: text}
}

func (v *Validator) techStack(text string) Result {
	stack := v.ParseTechStack(text)
	if len(stack) == 0 {
		return invalid(FlagBadFormat, "please list at least one technology, separated by commas")
	}
	return Result{Valid: true, TechStack: stack}
}

func (v *Validator) freeText(text string) Result {
	runes := len([]rune(text))
	if runes < v.cfg.MinAnswerLength {
		return invalid(FlagTooShort, "could you expand on that a little?")
	}
	if runes > v.cfg.MaxAnswerLength {
		return invalid(FlagTooLong, fmt.Sprintf("please keep the answer under %d characters", v.cfg.MaxAnswerLength))
	}
	return Result{Valid: true, Value: text}
}

// ParseTechStack splits raw input on the configured delimiters and returns
// trimmed, lower-cased technologies de-duplicated case-insensitively, keeping
// first-seen order and capping the list size.
func (v *Validator) ParseTechStack(raw string) []string {
	split := func(r rune) bool {
		return r == '\n' || strings.ContainsRune(v.cfg.StackDelimiters, r)
	}

	seen := make(map[string]struct{})
	stack := make([]string, 0)
	for _, part := range strings.FieldsFunc(raw, split) {
		tech := strings.ToLower(strings.TrimSpace(part))
		if tech == "" {
			continue
		}
		if _, ok := seen[tech]; ok {
			continue
		}
		seen[tech] = struct{}{}
		stack = append(stack, tech)
		if len(stack) == v.cfg.MaxStackSize {
			break
		}
	}

	return stack
}

// ExtractName pulls a plausible name out of a free-form greeting message.
// Returns an empty string when nothing name-like is found.
func ExtractName(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	lower := strings.ToLower(text)
	for _, marker := range []string{"my name is ", "i am ", "i'm ", "call me ", "this is "} {
		if idx := strings.Index(lower, marker); idx != -1 {
			candidate := text[idx+len(marker):]
			// The name ends at the first punctuation break.
			if cut := strings.IndexAny(candidate, ",.!?\n"); cut != -1 {
				candidate = candidate[:cut]
			}
			return firstWords(candidate, 3)
		}
	}

	// A short bare message is most likely just the name itself.
	words := strings.Fields(text)
	if len(words) <= 3 && !onlyDigits(text) && !strings.ContainsAny(text, "@?!") {
		return strings.Trim(text, ".,")
	}

	return ""
}

func firstWords(text string, n int) string {
	words := strings.Fields(strings.Trim(text, ".,!?"))
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func parseExperience(text string) (float64, error) {
	// Accept forms like "5", "5.5", "5 years", "about 5 years".
	fields := strings.Fields(strings.ToLower(text))
	for _, field := range fields {
		field = strings.TrimSuffix(field, "y")
		if years, err := strconv.ParseFloat(field, 64); err == nil {
			return years, nil
		}
	}
	return 0, fmt.Errorf("no numeric value in %q", text)
}

func unsafe(text string) bool {
	for _, pattern := range unsafePatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

func onlyDigits(text string) bool {
	stripped := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ' ' || r == '.' {
			return -1
		}
		return r
	}, text)
	return stripped == ""
}

func invalid(flag Flag, reason string) Result {
	return Result{Flags: []Flag{flag}, Reason: reason}
}

// HasFlag reports whether the result carries the given flag.
func (r Result) HasFlag(flag Flag) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
