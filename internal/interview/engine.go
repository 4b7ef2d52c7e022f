// Package interview implements the stage-based interview conversation engine.
package interview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talentscout/interviewer/internal/ai"
	"github.com/talentscout/interviewer/internal/logger"
	"github.com/talentscout/interviewer/internal/persona"
	"github.com/talentscout/interviewer/internal/prompt"
	"github.com/talentscout/interviewer/internal/validate"
)

// Store is the narrow persistence contract the engine depends on. Save is
// the commit point of every transition.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
}

// Reply is what callers receive from an engine operation. Internal fields
// like the retry counter never leak through it.
type Reply struct {
	SessionID string
	Message   string
	Stage     Stage
	Analytics Analytics
	Done      bool
}

// Config holds the product constants of the conversation flow. The defaults
// match the interview schedule; every value is overridable from configuration.
type Config struct {
	RetryCeiling      int
	ContextWindow     int
	TechnicalTarget   int
	BehavioralTarget  int
	PromptBudget      int
	MaxQuestionLength int
	ScoreTimeout      time.Duration
}

const (
	defaultRetryCeiling     = 3
	defaultContextWindow    = 5
	defaultTechnicalTarget  = 3
	defaultBehavioralTarget = 2
	defaultPromptBudget     = 4000
	defaultScoreTimeout     = 5 * time.Second
)

const retryMessage = "Let's try that again. "

// Engine owns session state transitions. Session access is serialized per
// session id; distinct sessions advance in parallel.
type Engine struct {
	store     Store
	gateway   *ai.Gateway
	validator *validate.Validator
	scorer    validate.Scorer
	cfg       Config
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the engine with its collaborators, filling zero config
// values with defaults.
func NewEngine(store Store, gateway *ai.Gateway, validator *validate.Validator, scorer validate.Scorer, cfg Config, log *zap.Logger) *Engine {
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = defaultRetryCeiling
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = defaultContextWindow
	}
	if cfg.TechnicalTarget <= 0 {
		cfg.TechnicalTarget = defaultTechnicalTarget
	}
	if cfg.BehavioralTarget <= 0 {
		cfg.BehavioralTarget = defaultBehavioralTarget
	}
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = defaultPromptBudget
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = defaultScoreTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		store:     store,
		gateway:   gateway,
		validator: validator,
		scorer:    scorer,
		cfg:       cfg,
		logger:    log,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Start creates a new session with the selected persona and persists it.
// An unknown persona is a ConfigurationError: the interview cannot begin.
func (e *Engine) Start(ctx context.Context, personaID persona.ID) (*Reply, error) {
	p, err := persona.Get(personaID)
	if err != nil {
		return nil, &ConfigurationError{Reason: "selecting persona", Err: err}
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        uuid.NewString(),
		Persona:   p.ID,
		Stage:     StageGreeting,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	session.Append(RoleAssistant, p.Greeting, nil, false)
	session.PendingPrompt = p.Greeting

	if err := e.store.Save(ctx, session); err != nil {
		return nil, &StoreError{Op: "save", Err: err}
	}

	e.logger.Info("interview started",
		logger.SessionFields(session.ID, session.Stage.String(), zap.String("persona", string(p.ID)))...)

	return reply(session, p.Greeting), nil
}

// Resume returns the pending prompt of an existing session without advancing
// it, so an interrupted interview can pick up deterministically.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*Reply, error) {
	unlock := e.lock(sessionID)
	defer unlock()

	session, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	if session.Status != StatusActive || session.Stage.Terminal() {
		return nil, ErrSessionClosed
	}

	return reply(session, session.PendingPrompt), nil
}

// Abandon archives the session without deleting it.
func (e *Engine) Abandon(ctx context.Context, sessionID string) error {
	unlock := e.lock(sessionID)
	defer unlock()

	session, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return &StoreError{Op: "load", Err: err}
	}
	if session.Status != StatusActive {
		return nil
	}

	work := session.Clone()
	work.Status = StatusAbandoned
	work.UpdatedAt = time.Now().UTC()

	if err := e.store.Save(ctx, work); err != nil {
		return &StoreError{Op: "save", Err: err}
	}

	e.dropLock(sessionID)
	e.logger.Info("interview abandoned", logger.SessionFields(sessionID, work.Stage.String())...)
	return nil
}

// Advance processes one candidate input and returns the next interviewer
// message. The stored session is either fully advanced and persisted or left
// unchanged: persistence failure means the transition did not happen.
func (e *Engine) Advance(ctx context.Context, sessionID, input string) (*Reply, error) {
	unlock := e.lock(sessionID)
	defer unlock()

	session, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	if session.Status != StatusActive || session.Stage.Terminal() {
		return nil, ErrSessionClosed
	}

	work := session.Clone()
	message, err := e.transition(ctx, work, input)
	if err != nil {
		return nil, err
	}

	work.UpdatedAt = time.Now().UTC()

	if err := e.store.Save(ctx, work); err != nil {
		return nil, &StoreError{Op: "save", Err: err}
	}

	if work.Stage.Terminal() {
		e.dropLock(sessionID)
	}

	return reply(work, message), nil
}

// lock serializes access per session id.
func (e *Engine) lock(sessionID string) func() {
	e.mu.Lock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// dropLock forgets the session's mutex so the map does not grow with every
/// finished interview. Only called once the session is terminal: late callers
// racing on a fresh mutex can no longer mutate anything.
func (e *Engine) dropLock(sessionID string) {
	e.mu.Lock()
	delete(e.locks, sessionID)
	e.mu.Unlock()
}

// transition applies one state machine step to the working copy. Recoverable
// problems become retry or fallback messages; only configuration errors and
// context cancellation escape.
func (e *Engine) transition(ctx context.Context, s *Session, input string) (string, error) {
	p, err := persona.Get(s.Persona)
	if err != nil {
		return "", &ConfigurationError{Reason: "loading session persona", Err: err}
	}

	responseSeconds := sinceLastPrompt(s)
	field := s.expectedField()

	result := e.validator.Input(field, input)
	if !result.Valid {
		return e.handleInvalid(ctx, s, p, input, result)
	}

	score := e.scoreAnswer(ctx, s, field, input)
	s.Append(RoleUser, strings.TrimSpace(input), score, false)
	s.recordAnswerMetrics(score, responseSeconds)
	s.RetryCount = 0
	s.AwaitingRetry = false

	switch s.Stage {
	case StageGreeting:
		return e.afterGreeting(ctx, s, p, input)
	case StageCollecting:
		return e.afterCollecting(ctx, s, p, field, result)
	case StageTechnical:
		return e.afterTechnical(ctx, s, p)
	case StageBehavioral:
		return e.afterBehavioral(ctx, s, p)
	case StageSummary:
		return e.close(s, p), nil
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("no transition from stage %q", s.Stage)}
	}
}

// expectedField maps the current stage to what the pending prompt asked for.
func (s *Session) expectedField() validate.Field {
	switch s.Stage {
	case StageGreeting:
		return validate.FieldFreeText
	case StageCollecting:
		return s.Profile.MissingField()
	default:
		return validate.FieldFreeText
	}
}

// handleInvalid routes malformed input to the retry sub-state. Once the
// retry ceiling is reached the engine forces forward progress instead of
// stalling on the same prompt.
func (e *Engine) handleInvalid(ctx context.Context, s *Session, p *persona.Persona, input string, result validate.Result) (string, error) {
	excluded := result.HasFlag(validate.FlagUnsafe)
	s.Append(RoleUser, strings.TrimSpace(input), &validate.Score{Flags: result.Flags}, excluded)

	s.RetryCount++
	if s.RetryCount < e.cfg.RetryCeiling {
		s.AwaitingRetry = true
		message := retryMessage + result.Reason + "\n\n" + s.PendingPrompt
		s.Append(RoleAssistant, message, nil, false)

		e.logger.Debug("input rejected, awaiting retry",
			logger.SessionFields(s.ID, s.Stage.String(),
				zap.Int("retry_count", s.RetryCount),
				zap.Strings("flags", flagStrings(result.Flags)))...)

		return message, nil
	}

	// Ceiling reached: give up on this prompt and move on.
	e.logger.Warn("retry ceiling reached, forcing forward progress",
		logger.SessionFields(s.ID, s.Stage.String(), zap.Int("retry_count", s.RetryCount))...)

	s.RetryCount = 0
	s.AwaitingRetry = false

	switch s.Stage {
	case StageGreeting:
		s.Profile.Skip(validate.FieldName)
		return e.afterGreeting(ctx, s, p, "")
	case StageCollecting:
		s.Profile.Skip(s.Profile.MissingField())
		return e.afterCollecting(ctx, s, p, "", validate.Result{})
	case StageTechnical:
		return e.afterTechnical(ctx, s, p)
	case StageBehavioral:
		return e.afterBehavioral(ctx, s, p)
	default:
		return e.close(s, p), nil
	}
}

// afterGreeting consumes the first candidate message, opportunistically
// extracting the name, and enters info collection.
func (e *Engine) afterGreeting(ctx context.Context, s *Session, p *persona.Persona, input string) (string, error) {
	if name := validate.ExtractName(input); name != "" {
		s.Profile.Name = name
	}

	s.Stage = StageCollecting
	if s.Profile.Complete() {
		return e.askTechnical(ctx, s, p, "")
	}
	return e.askField(ctx, s, p, s.Profile.MissingField(), greet(p, s.Profile.Name))
}

// afterCollecting stores the validated field and either targets the next
// missing field or enters the technical assessment.
func (e *Engine) afterCollecting(ctx context.Context, s *Session, p *persona.Persona, field validate.Field, result validate.Result) (string, error) {
	switch field {
	case validate.FieldName:
		s.Profile.Name = result.Value
	case validate.FieldEmail:
		s.Profile.Email = result.Value
	case validate.FieldExperience:
		s.Profile.ExperienceYears = result.Experience
		s.Profile.ExperienceSet = true
	case validate.FieldPosition:
		s.Profile.Position = result.Value
	case validate.FieldTechStack:
		s.Profile.TechStack = result.TechStack
	}

	if !s.Profile.Complete() {
		return e.askField(ctx, s, p, s.Profile.MissingField(), "")
	}

	return e.askTechnical(ctx, s, p, "Thanks, "+displayName(s)+"! Your profile is complete. Let's begin the technical assessment.\n\n")
}

// afterTechnical asks the next technical question or moves to the
// behavioral assessment once the target is reached.
func (e *Engine) afterTechnical(ctx context.Context, s *Session, p *persona.Persona) (string, error) {
	lead := encouragement(p, s) + "\n\n"
	if s.TechnicalAsked < e.cfg.TechnicalTarget {
		return e.askTechnical(ctx, s, p, lead)
	}

	s.Stage = StageBehavioral
	return e.askBehavioral(ctx, s, p, lead+"That completes the technical assessment. Now let's talk about how you work.\n\n")
}

// afterBehavioral asks the next behavioral prompt or moves to the summary.
func (e *Engine) afterBehavioral(ctx context.Context, s *Session, p *persona.Persona) (string, error) {
	lead := encouragement(p, s) + "\n\n"
	if s.BehavioralAsked < e.cfg.BehavioralTarget {
		return e.askBehavioral(ctx, s, p, lead)
	}

	s.Stage = StageSummary
	return e.askSummary(ctx, s, p, lead)
}

// close terminates the interview on summary acknowledgment.
func (e *Engine) close(s *Session, p *persona.Persona) string {
	s.Stage = StageClosed
	s.Status = StatusCompleted

	message := fmt.Sprintf(
		"Thank you for your time today, %s! The interview is complete: %d technical and %d behavioral questions answered. The team will be in touch within a few business days.",
		displayName(s), s.TechnicalAsked, s.BehavioralAsked,
	)
	s.Append(RoleAssistant, message, nil, false)
	s.PendingPrompt = ""

	e.logger.Info("interview completed",
		logger.SessionFields(s.ID, s.Stage.String(),
			zap.Int("technical_questions", s.TechnicalAsked),
			zap.Int("behavioral_questions", s.BehavioralAsked))...)

	return message
}

// askField emits a prompt targeting exactly one missing profile field.
func (e *Engine) askField(ctx context.Context, s *Session, p *persona.Persona, field validate.Field, lead string) (string, error) {
	generated, err := e.generate(ctx, s, p, ai.Constraints{
		Stage:       s.Stage.String(),
		TargetField: string(field),
	}, string(field))
	if err != nil {
		return "", err
	}

	message := lead + generated.Text
	s.Append(RoleAssistant, message, nil, false)
	s.PendingPrompt = message
	return message, nil
}

// askTechnical selects the next focus technology and emits a technical
// question for it.
func (e *Engine) askTechnical(ctx context.Context, s *Session, p *persona.Persona, lead string) (string, error) {
	s.Stage = StageTechnical
	tech := s.nextTechnology()

	generated, err := e.generate(ctx, s, p, ai.Constraints{
		Stage:           s.Stage.String(),
		FocusTechnology: tech,
		Difficulty:      difficultyFor(s.Profile.ExperienceYears),
	}, tech)
	if err != nil {
		return "", err
	}

	s.TechnicalAsked++
	s.recordQuestion(generated)
	if tech != "" {
		s.RecentTechnologies = append(s.RecentTechnologies, tech)
		if len(s.RecentTechnologies) > 2 {
			s.RecentTechnologies = s.RecentTechnologies[len(s.RecentTechnologies)-2:]
		}
	}

	message := fmt.Sprintf("%sTechnical question %d of %d:\n\n%s", lead, s.TechnicalAsked, e.cfg.TechnicalTarget, generated.Text)
	s.Append(RoleAssistant, message, nil, false)
	s.PendingPrompt = message
	return message, nil
}

// askBehavioral emits the next behavioral prompt, cycling the persona's
// focus areas.
func (e *Engine) askBehavioral(ctx context.Context, s *Session, p *persona.Persona, lead string) (string, error) {
	target := focusArea(p, s.BehavioralAsked)

	generated, err := e.generate(ctx, s, p, ai.Constraints{
		Stage: s.Stage.String(),
	}, target)
	if err != nil {
		return "", err
	}

	s.BehavioralAsked++
	s.recordQuestion(generated)

	message := fmt.Sprintf("%sBehavioral question %d of %d:\n\n%s", lead, s.BehavioralAsked, e.cfg.BehavioralTarget, generated.Text)
	s.Append(RoleAssistant, message, nil, false)
	s.PendingPrompt = message
	return message, nil
}

// askSummary emits the closing summary and waits for acknowledgment.
func (e *Engine) askSummary(ctx context.Context, s *Session, p *persona.Persona, lead string) (string, error) {
	generated, err := e.generate(ctx, s, p, ai.Constraints{
		Stage: s.Stage.String(),
	}, "")
	if err != nil {
		return "", err
	}

	message := lead + generated.Text
	s.Append(RoleAssistant, message, nil, false)
	s.PendingPrompt = message
	return message, nil
}

// generate assembles the stage prompt and runs it through the gateway. A
// missing template is a configuration error; provider trouble is absorbed by
// the gateway's fallback path.
func (e *Engine) generate(ctx context.Context, s *Session, p *persona.Persona, c ai.Constraints, target string) (*ai.Generated, error) {
	built, err := prompt.Build(prompt.Input{
		Stage:        s.Stage.String(),
		Persona:      p,
		Profile:      promptProfile(s),
		Window:       promptWindow(s.ContextWindow(e.cfg.ContextWindow)),
		Target:       target,
		WindowBudget: e.cfg.PromptBudget,
	})
	if err != nil {
		return nil, &ConfigurationError{Reason: "assembling prompt", Err: err}
	}

	c.MaxLength = e.cfg.MaxQuestionLength
	generated, err := e.gateway.Generate(ctx, built, c)
	if err != nil {
		return nil, err
	}

	if generated.Source == ai.SourceFallback {
		e.logger.Debug("fallback content substituted",
			logger.SessionFields(s.ID, s.Stage.String(), zap.String("target", target))...)
	}
	return generated, nil
}

// scoreAnswer runs the scoring collaborator with a bounded timeout. Scoring
// failures never block the interview: they degrade to an unscored turn.
func (e *Engine) scoreAnswer(ctx context.Context, s *Session, field validate.Field, input string) *validate.Score {
	if field != validate.FieldFreeText || e.scorer == nil {
		return nil
	}

	scoreCtx, cancel := context.WithTimeout(ctx, e.cfg.ScoreTimeout)
	defer cancel()

	score, err := e.scorer.Score(scoreCtx, input)
	if err != nil {
		e.logger.Warn("scoring model failed",
			logger.SessionFields(s.ID, s.Stage.String(), zap.Error(err))...)
		return nil
	}
	return &score
}

func (s *Session) recordQuestion(g *ai.Generated) {
	s.Analytics.QuestionCount++
	s.Questions = append(s.Questions, Question{
		Text:            g.Text,
		FocusTechnology: g.FocusTechnology,
		Difficulty:      g.Difficulty,
		GeneratedAt:     g.GeneratedAt,
		Source:          QuestionSource(g.Source),
	})
}

// nextTechnology round-robins over the declared stack, avoiding the
// technologies covered by the last two questions when an alternative exists.
func (s *Session) nextTechnology() string {
	stack := s.Profile.TechStack
	if len(stack) == 0 {
		return ""
	}

	start := s.TechnicalAsked % len(stack)
	for i := 0; i < len(stack); i++ {
		tech := stack[(start+i)%len(stack)]
		if !recentlyAsked(s.RecentTechnologies, tech) {
			return tech
		}
	}
	return stack[start]
}

func recentlyAsked(recent []string, tech string) bool {
	if len(recent) > 2 {
		recent = recent[len(recent)-2:]
	}
	for _, r := range recent {
		if r == tech {
			return true
		}
	}
	return false
}

func sinceLastPrompt(s *Session) float64 {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleAssistant {
			return time.Since(s.Transcript[i].Timestamp).Seconds()
		}
	}
	return 0
}

func promptProfile(s *Session) prompt.Profile {
	return prompt.Profile{
		Name:            s.Profile.Name,
		Email:           s.Profile.Email,
		Position:        s.Profile.Position,
		ExperienceYears: s.Profile.ExperienceYears,
		TechStack:       s.Profile.TechStack,
	}
}

func promptWindow(turns []Turn) []prompt.WindowEntry {
	window := make([]prompt.WindowEntry, len(turns))
	for i, turn := range turns {
		window[i] = prompt.WindowEntry{Role: string(turn.Role), Text: turn.Text}
	}
	return window
}

func difficultyFor(years float64) string {
	switch {
	case years >= 8:
		return "expert"
	case years >= 4:
		return "advanced"
	case years >= 1:
		return "intermediate"
	default:
		return "beginner"
	}
}

func focusArea(p *persona.Persona, asked int) string {
	areas := make([]string, 0, len(p.FocusWeights))
	for area := range p.FocusWeights {
		areas = append(areas, area)
	}
	if len(areas) == 0 {
		return "teamwork"
	}
	// Stable order so the rotation is deterministic.
	sort.Strings(areas)
	return areas[asked%len(areas)]
}

func encouragement(p *persona.Persona, s *Session) string {
	if len(p.Encouragement) == 0 {
		return "Thank you for sharing that."
	}
	return p.Encouragement[answerCount(s.Transcript)%len(p.Encouragement)]
}

func greet(p *persona.Persona, name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return fmt.Sprintf("Nice to meet you, %s!\n\n", name)
}

func displayName(s *Session) string {
	if strings.TrimSpace(s.Profile.Name) == "" {
		return "candidate"
	}
	return s.Profile.Name
}

func flagStrings(flags []validate.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func reply(s *Session, message string) *Reply {
	return &Reply{
		SessionID: s.ID,
		Message:   message,
		Stage:     s.Stage,
		Analytics: s.Analytics,
		Done:      s.Stage.Terminal(),
	}
}
