package interview

import (
	"strings"
	"time"

	"github.com/talentscout/interviewer/internal/persona"
	"github.com/talentscout/interviewer/internal/validate"
)

// Role of a transcript turn author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status of a session. Terminal sessions are archived, never deleted.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// QuestionSource records where a question came from.
type QuestionSource string

const (
	SourceModel    QuestionSource = "model"
	SourceFallback QuestionSource = "fallback"
)

// Question is one generated or fallback interview item. It is owned
// exclusively by the session that created it.
type Question struct {
	Text            string         `json:"text"`
	FocusTechnology string         `json:"focus_technology,omitempty"`
	Difficulty      string         `json:"difficulty,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
	Source          QuestionSource `json:"source"`
}

// Turn is one transcript entry. The transcript is append-only and defines
// replay order.
type Turn struct {
	Index     int             `json:"index"`
	Role      Role            `json:"role"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
	Stage     Stage           `json:"stage"`
	Score     *validate.Score `json:"score,omitempty"`
	// Excluded marks input that failed safety filtering: recorded in the
	// transcript but never injected into prompts.
	Excluded bool `json:"excluded,omitempty"`
}

// CandidateProfile holds the incrementally collected candidate fields.
// A field, once validated, is never overwritten with an unvalidated value.
type CandidateProfile struct {
	Name            string   `json:"name,omitempty"`
	Email           string   `json:"email,omitempty"`
	ExperienceYears float64  `json:"experience_years,omitempty"`
	ExperienceSet   bool     `json:"experience_set,omitempty"`
	Position        string   `json:"position,omitempty"`
	Location        string   `json:"location,omitempty"`
	TechStack       []string `json:"tech_stack,omitempty"`
	// SkippedFields lists fields the engine gave up collecting after the
	// retry ceiling, to guarantee forward progress.
	SkippedFields []string `json:"skipped_fields,omitempty"`
}

// MissingField returns the first unvalidated required field in the fixed
// priority order, or "" when the profile is complete. Skipped fields are no
// longer required.
func (p *CandidateProfile) MissingField() validate.Field {
	switch {
	case strings.TrimSpace(p.Name) == "" && !p.skipped(validate.FieldName):
		return validate.FieldName
	case strings.TrimSpace(p.Email) == "" && !p.skipped(validate.FieldEmail):
		return validate.FieldEmail
	case !p.ExperienceSet && !p.skipped(validate.FieldExperience):
		return validate.FieldExperience
	case strings.TrimSpace(p.Position) == "" && !p.skipped(validate.FieldPosition):
		return validate.FieldPosition
	case len(p.TechStack) == 0 && !p.skipped(validate.FieldTechStack):
		return validate.FieldTechStack
	default:
		return ""
	}
}

// Skip marks a field as uncollectable so the interview can move on.
func (p *CandidateProfile) Skip(field validate.Field) {
	if field == "" || p.skipped(field) {
		return
	}
	p.SkippedFields = append(p.SkippedFields, string(field))
}

func (p *CandidateProfile) skipped(field validate.Field) bool {
	for _, f := range p.SkippedFields {
		if f == string(field) {
			return true
		}
	}
	return false
}

// Complete reports whether every required field has been validated.
func (p *CandidateProfile) Complete() bool {
	return p.MissingField() == ""
}

// Analytics are the running per-session aggregates exposed to callers.
type Analytics struct {
	QuestionCount          int       `json:"question_count"`
	AverageResponseSeconds float64   `json:"average_response_seconds"`
	SentimentTrend         []float64 `json:"sentiment_trend,omitempty"`
	TechnicalDepthScore    float64   `json:"technical_depth_score"`
	EngagementLevel        string    `json:"engagement_level,omitempty"`
}

// Session is the complete state of one candidate interview. It is mutated
// exclusively through engine transitions.
type Session struct {
	ID            string           `json:"id"`
	Persona       persona.ID       `json:"persona"`
	Stage         Stage            `json:"stage"`
	AwaitingRetry bool             `json:"awaiting_retry,omitempty"`
	Status        Status           `json:"status"`
	Profile       CandidateProfile `json:"candidate_profile"`
	Transcript    []Turn           `json:"transcript"`
	Questions     []Question       `json:"questions,omitempty"`
	Analytics     Analytics        `json:"analytics"`

	// PendingPrompt is the question awaiting an answer; re-issued on retry.
	PendingPrompt string `json:"pending_prompt,omitempty"`
	RetryCount    int    `json:"retry_count,omitempty"`

	// Round-robin bookkeeping for the technical assessment.
	RecentTechnologies []string `json:"recent_technologies,omitempty"`
	TechnicalAsked     int      `json:"technical_asked,omitempty"`
	BehavioralAsked    int      `json:"behavioral_asked,omitempty"`

	// ValidAnswers counts accepted candidate answers only; retry turns do
	// not dilute the response-time average.
	ValidAnswers int `json:"valid_answers,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds a turn to the transcript and returns it. Indexes are assigned
// sequentially so transcript length strictly increases.
func (s *Session) Append(role Role, text string, score *validate.Score, excluded bool) *Turn {
	turn := Turn{
		Index:     len(s.Transcript),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Stage:     s.Stage,
		Score:     score,
		Excluded:  excluded,
	}
	s.Transcript = append(s.Transcript, turn)
	return &s.Transcript[len(s.Transcript)-1]
}

// ContextWindow returns the last k transcript turns that are eligible for
// prompt injection. The window is derived from the transcript, never stored.
func (s *Session) ContextWindow(k int) []Turn {
	if k <= 0 {
		return nil
	}

	window := make([]Turn, 0, k)
	for i := len(s.Transcript) - 1; i >= 0 && len(window) < k; i-- {
		if s.Transcript[i].Excluded {
			continue
		}
		window = append(window, s.Transcript[i])
	}

	// Reverse back into chronological order.
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}

// Clone returns a deep copy of the session. The engine works on clones so a
// failed transition leaves the authoritative snapshot untouched.
func (s *Session) Clone() *Session {
	clone := *s

	clone.Transcript = make([]Turn, len(s.Transcript))
	copy(clone.Transcript, s.Transcript)
	for i := range clone.Transcript {
		if sc := clone.Transcript[i].Score; sc != nil {
			copied := *sc
			copied.Flags = append([]validate.Flag(nil), sc.Flags...)
			clone.Transcript[i].Score = &copied
		}
	}

	clone.Questions = append([]Question(nil), s.Questions...)
	clone.Profile.TechStack = append([]string(nil), s.Profile.TechStack...)
	clone.Profile.SkippedFields = append([]string(nil), s.Profile.SkippedFields...)
	clone.Analytics.SentimentTrend = append([]float64(nil), s.Analytics.SentimentTrend...)
	clone.RecentTechnologies = append([]string(nil), s.RecentTechnologies...)
	return &clone
}

// recordAnswerMetrics folds one accepted answer into the running aggregates.
func (s *Session) recordAnswerMetrics(score *validate.Score, responseSeconds float64) {
	s.ValidAnswers++

	if score != nil {
		s.Analytics.SentimentTrend = append(s.Analytics.SentimentTrend, score.Sentiment)

		n := float64(len(s.Analytics.SentimentTrend))
		s.Analytics.TechnicalDepthScore += (score.TechnicalDepth - s.Analytics.TechnicalDepthScore) / n
	}

	if responseSeconds > 0 {
		answered := float64(s.ValidAnswers)
		if answered <= 1 {
			s.Analytics.AverageResponseSeconds = responseSeconds
		} else {
			s.Analytics.AverageResponseSeconds += (responseSeconds - s.Analytics.AverageResponseSeconds) / answered
		}
	}

	s.Analytics.EngagementLevel = engagementLevel(s.Analytics.SentimentTrend)
}

func answerCount(transcript []Turn) int {
	var n int
	for _, turn := range transcript {
		if turn.Role == RoleUser {
			n++
		}
	}
	return n
}

func engagementLevel(trend []float64) string {
	if len(trend) == 0 {
		return "low"
	}

	var sum float64
	for _, v := range trend {
		sum += v
	}
	avg := sum / float64(len(trend))

	switch {
	case avg > 0.3:
		return "high"
	case avg >= -0.1:
		return "medium"
	default:
		return "low"
	}
}
