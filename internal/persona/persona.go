// Package persona supplies the closed set of interviewer personas and their
// tone parameters. The table is read-only after initialization.
package persona

import (
	"fmt"
	"sort"
)

// ID identifies one of the fixed interviewer personas.
type ID string

const (
	TechnicalLead    ID = "technical_lead"
	FriendlyHR       ID = "friendly_hr"
	SeniorManager    ID = "senior_manager"
	CreativeDirector ID = "creative_director"
)

// Tone describes how a persona phrases prompts.
type Tone struct {
	Verbosity string // terse, balanced, expansive
	Formality string // casual, professional, formal
}

// Persona is one interviewer profile. Instances are shared and must not be
// mutated by callers.
type Persona struct {
	ID            ID
	Name          string
	Title         string
	Tone          Tone
	FocusWeights  map[string]float64 // focus area -> weight, sums to 1
	Encouragement []string
	Greeting      string
}

var table = map[ID]*Persona{
	TechnicalLead: {
		ID:    TechnicalLead,
		Name:  "Alex Thompson",
		Title: "Senior Technical Lead",
		Tone:  Tone{Verbosity: "terse", Formality: "professional"},
		FocusWeights: map[string]float64{
			"system_design":   0.4,
			"problem_solving": 0.4,
			"communication":   0.2,
		},
		Encouragement: []string{
			"That's a solid approach.",
			"Good thinking on that solution.",
			"I like your systematic approach.",
			"Excellent consideration of edge cases.",
		},
		Greeting: "Hello! I'm Alex Thompson, Senior Technical Lead. I'm looking forward to discussing your technical background. What should I call you?",
	},
	FriendlyHR: {
		ID:    FriendlyHR,
		Name:  "Sarah Chen",
		Title: "People Operations Manager",
		Tone:  Tone{Verbosity: "expansive", Formality: "casual"},
		FocusWeights: map[string]float64{
			"communication":   0.4,
			"teamwork":        0.4,
			"problem_solving": 0.2,
		},
		Encouragement: []string{
			"I really appreciate your honesty.",
			"That's a great example of teamwork.",
			"You show excellent self-awareness.",
			"Your experience really shines through.",
		},
		Greeting: "Hi! I'm Sarah Chen from People Operations. I'm excited to learn about your background. May I have your name?",
	},
	SeniorManager: {
		ID:    SeniorManager,
		Name:  "David Osei",
		Title: "Engineering Manager",
		Tone:  Tone{Verbosity: "balanced", Formality: "professional"},
		FocusWeights: map[string]float64{
			"leadership":      0.4,
			"problem_solving": 0.3,
			"communication":   0.3,
		},
		Encouragement: []string{
			"That shows real ownership.",
			"Good awareness of the wider impact.",
			"I appreciate the concrete example.",
		},
		Greeting: "Welcome! I'm David Osei, Engineering Manager. Let's talk about your experience and how you work. Could you introduce yourself?",
	},
	CreativeDirector: {
		ID:    CreativeDirector,
		Name:  "Mina Kovacs",
		Title: "Creative Director",
		Tone:  Tone{Verbosity: "expansive", Formality: "casual"},
		FocusWeights: map[string]float64{
			"creativity":    0.5,
			"communication": 0.3,
			"teamwork":      0.2,
		},
		Encouragement: []string{
			"What an interesting angle.",
			"I love how you framed that.",
			"That's a refreshing take.",
		},
		Greeting: "Hey there! Mina Kovacs, Creative Director. I'd love to hear your story. What's your name?",
	},
}

// Get returns the persona for the given id. An unknown id is a configuration
// error, never a silent default.
func Get(id ID) (*Persona, error) {
	p, ok := table[id]
	if !ok {
		return nil, fmt.Errorf("unknown persona %q (available: %v)", id, IDs())
	}
	return p, nil
}

// Default returns the product default persona. Callers choosing it as a
// fallback must log that decision.
func Default() *Persona {
	return table[TechnicalLead]
}

// IDs returns all defined persona ids in stable order.
func IDs() []ID {
	ids := make([]ID, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
