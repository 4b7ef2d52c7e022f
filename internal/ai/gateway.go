// Package ai wraps the external LLM provider behind a narrow gateway with
// retry, timeout and local fallback behavior so the interview can always
// proceed.
package ai

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/talentscout/interviewer/internal/utils"
)

// Generator is the narrow provider contract. The core never depends on
// provider-specific semantics beyond it.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Source tags where generated text came from.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Constraints narrow what the gateway should produce and where to look for
// fallback content when the provider is unavailable.
type Constraints struct {
	Stage           string
	FocusTechnology string
	TargetField     string
	Difficulty      string
	MaxLength       int
}

// Generated is one question or message produced by the gateway.
type Generated struct {
	Text            string
	FocusTechnology string
	Difficulty      string
	GeneratedAt     time.Time
	Source          Source
}

// Config holds the gateway retry, timeout and throttling policy.
type Config struct {
	MaxRetries int
	Timeout    time.Duration
	Backoff    time.Duration
	// RequestsPerMinute caps outbound provider calls across all sessions.
	RequestsPerMinute int
}

const (
	defaultMaxRetries        = 3
	defaultTimeout           = 30 * time.Second
	defaultBackoff           = 2 * time.Second
	defaultMaxLength         = 2000
	defaultRequestsPerMinute = 30
)

// Gateway executes provider calls with bounded retries and substitutes bank
// questions when the provider fails or returns non-conforming output.
type Gateway struct {
	generator Generator
	bank      *FallbackBank
	limiter   *rate.Limiter
	cfg       Config
	logger    *zap.Logger
}

// NewGateway builds a gateway around the given generator. A nil generator is
// allowed: every call then resolves from the fallback bank, which keeps the
// interview usable without provider credentials.
func NewGateway(generator Generator, bank *FallbackBank, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		generator: generator,
		bank:      bank,
		limiter: rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)),
			cfg.RequestsPerMinute,
		),
		cfg:    cfg,
		logger: logger,
	}
}

// Generate runs the prompt against the provider. On timeout, provider error
// or malformed output it retries with backoff; once retries are exhausted it
// returns a bank question tagged SourceFallback. The only error returned is
// caller context cancellation.
func (g *Gateway) Generate(ctx context.Context, prompt string, c Constraints) (*Generated, error) {
	maxLength := c.MaxLength
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	if g.generator != nil {
		for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
			text, err := g.attempt(ctx, prompt)
			if err == nil {
				text = sanitizeOutput(text)
				if conforming(text, maxLength) {
					return &Generated{
						Text:            text,
						FocusTechnology: c.FocusTechnology,
						Difficulty:      c.Difficulty,
						GeneratedAt:     time.Now().UTC(),
						Source:          SourceModel,
					}, nil
				}
				err = errNonConforming
			}

			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			g.logger.Warn("provider attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", g.cfg.MaxRetries),
				zap.String("model", g.generator.Model()),
				zap.Error(err),
			)

			if attempt < g.cfg.MaxRetries {
				if err := utils.WaitFor(ctx, time.Duration(attempt)*g.cfg.Backoff); err != nil {
					return nil, err
				}
			}
		}
	}

	fallback := g.bank.Question(c)
	g.logger.Info("substituting fallback question",
		zap.String("stage", c.Stage),
		zap.String("focus_technology", c.FocusTechnology),
	)

	return &Generated{
		Text:            fallback,
		FocusTechnology: c.FocusTechnology,
		Difficulty:      c.Difficulty,
		GeneratedAt:     time.Now().UTC(),
		Source:          SourceFallback,
	}, nil
}

func (g *Gateway) attempt(ctx context.Context, prompt string) (string, error) {
	// Throttle before the per-attempt timeout starts counting. An exhausted
	// rate budget is a failed attempt like any other, so the interview falls
	// back to the bank instead of stalling.
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	return g.generator.GenerateContent(callCtx, prompt)
}

var errNonConforming = &nonConformingError{}

type nonConformingError struct{}

func (*nonConformingError) Error() string {
	return "provider returned empty or non-conforming output"
}

// sanitizeOutput strips markdown fences and surrounding whitespace that
// models habitually wrap answers in.
func sanitizeOutput(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```markdown")
		text = strings.TrimPrefix(text, "```text")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx != -1 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

func conforming(text string, maxLength int) bool {
	return text != "" && len([]rune(text)) <= maxLength
}
