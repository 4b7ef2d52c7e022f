package ai

import (
	"fmt"
	"strings"
	"sync"

	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed fallback.yaml
var fallbackYAML []byte

// FallbackBank holds the locally stored questions substituted when the
// provider is unavailable or returns invalid output. Read-only after load
// and safe for concurrent use.
type FallbackBank struct {
	Technologies map[string][]string `yaml:"technologies"`
	Categories   []FallbackCategory  `yaml:"categories"`
	Stages       map[string][]string `yaml:"stages"`
	Fields       map[string]string   `yaml:"fields"`
	Generic      []string            `yaml:"generic"`

	// usage counts rotate bank questions so retries within one session do
	// not repeat the same canned text. Guarded by mu: the bank is shared
	// across sessions.
	mu    sync.Mutex
	usage map[string]int
}

// FallbackCategory groups related technologies under shared questions.
type FallbackCategory struct {
	Name      string   `yaml:"name"`
	Members   []string `yaml:"members"`
	Questions []string `yaml:"questions"`
}

// LoadFallbackBank parses the embedded question bank. An unparseable bank is
// a build defect and surfaces as a configuration error.
func LoadFallbackBank() (*FallbackBank, error) {
	var bank FallbackBank
	if err := yaml.Unmarshal(fallbackYAML, &bank); err != nil {
		return nil, fmt.Errorf("parse embedded fallback bank: %w", err)
	}
	if len(bank.Generic) == 0 {
		return nil, fmt.Errorf("embedded fallback bank has no generic questions")
	}
	bank.usage = make(map[string]int)
	return &bank, nil
}

// Question resolves a fallback for the given constraints: a collected-field
// prompt first, then an exact technology match, then the technology's
// category, then the stage bank, and finally a generic question.
func (b *FallbackBank) Question(c Constraints) string {
	if field := strings.TrimSpace(c.TargetField); field != "" {
		if text, ok := b.Fields[field]; ok {
			return text
		}
	}

	tech := strings.ToLower(strings.TrimSpace(c.FocusTechnology))
	if tech != "" {
		if questions, ok := b.Technologies[tech]; ok && len(questions) > 0 {
			return b.pick("tech:"+tech, questions, tech)
		}
		for _, category := range b.Categories {
			if contains(category.Members, tech) && len(category.Questions) > 0 {
				return b.pick("cat:"+category.Name, category.Questions, tech)
			}
		}
	}

	if questions, ok := b.Stages[c.Stage]; ok && len(questions) > 0 {
		return b.pick("stage:"+c.Stage, questions, tech)
	}

	return b.pick("generic", b.Generic, tech)
}

func (b *FallbackBank) pick(key string, questions []string, tech string) string {
	b.mu.Lock()
	idx := b.usage[key] % len(questions)
	b.usage[key]++
	b.mu.Unlock()

	text := questions[idx]
	if tech != "" {
		text = strings.ReplaceAll(text, "{{TECH}}", tech)
	}
	return text
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
