package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talentscout/interviewer/internal/ai"
	"github.com/talentscout/interviewer/internal/ai/gemini"
	"github.com/talentscout/interviewer/internal/interview"
	"github.com/talentscout/interviewer/internal/logger"
	"github.com/talentscout/interviewer/internal/persona"
	"github.com/talentscout/interviewer/internal/secrets"
	"github.com/talentscout/interviewer/internal/store"
	"github.com/talentscout/interviewer/internal/validate"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interactive interview session",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("session", "s", "", "resume an existing session by id")
	runCmd.Flags().StringP("persona", "p", "", "interviewer persona (skips the selection prompt)")
}

// run drives one interview from the terminal: a thin loop around
// engine.Advance.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	zlog, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		zlog.Fatal("getting a config", zap.Error(err))
	}

	zlog.Info("starting talentscout", zap.String("version", version))

	st, err := store.Open(config.Store.Path, zlog)
	if err != nil {
		zlog.Fatal("opening session store", zap.Error(err))
	}
	defer st.Close()

	engine := buildEngine(ctx, config, st, zlog)

	sessionID := cmd.Flag("session").Value.String()
	var reply *interview.Reply

	if sessionID != "" {
		reply, err = engine.Resume(ctx, sessionID)
		if err != nil {
			zlog.Fatal("resuming session", zap.String("session_id", sessionID), zap.Error(err))
		}
		zlog.Info("resumed session", logger.SessionFields(sessionID, reply.Stage.String())...)
	} else {
		selected, err := selectPersona(cmd, config, zlog)
		if err != nil {
			zlog.Fatal("selecting persona", zap.Error(err))
		}

		reply, err = engine.Start(ctx, selected)
		if err != nil {
			zlog.Fatal("starting interview", zap.Error(err))
		}
		sessionID = reply.SessionID
		zlog.Info("created session", logger.SessionFields(sessionID, reply.Stage.String())...)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Printf("\ninterviewer> %s\n\nyou> ", reply.Message)

		if !scanner.Scan() {
			// EOF: the candidate walked away. Archive, do not delete.
			if err := engine.Abandon(ctx, sessionID); err != nil {
				zlog.Warn("abandoning session", zap.Error(err))
			}
			fmt.Println()
			zlog.Info("session abandoned", zap.String("session_id", sessionID))
			return
		}

		reply, err = engine.Advance(ctx, sessionID, scanner.Text())
		if err != nil {
			if errors.Is(err, interview.ErrSessionClosed) {
				zlog.Info("session already closed", zap.String("session_id", sessionID))
				return
			}
			// Store and configuration errors are the only ones that
			// cross the engine boundary; the transition was not committed.
			zlog.Fatal("advancing interview", zap.String("session_id", sessionID), zap.Error(err))
		}

		if reply.Done {
			fmt.Printf("\ninterviewer> %s\n\n", reply.Message)
			zlog.Info("interview finished",
				logger.SessionFields(sessionID, reply.Stage.String(),
					zap.Int("questions", reply.Analytics.QuestionCount),
					zap.String("engagement", reply.Analytics.EngagementLevel))...)
			return
		}
	}
}

// buildEngine wires the gateway, validator and scorer from configuration.
// A missing or disabled AI provider is not fatal: the gateway then serves
// every question from the local fallback bank.
func buildEngine(ctx context.Context, config *Config, st *store.Store, zlog *zap.Logger) *interview.Engine {
	bank, err := ai.LoadFallbackBank()
	if err != nil {
		zlog.Fatal("loading fallback question bank", zap.Error(err))
	}

	generator, gwCfg := buildGenerator(ctx, config.AI, zlog)

	gateway := ai.NewGateway(generator, bank, gwCfg, zlog)

	engineCfg := interview.Config{
		RetryCeiling:     config.Interview.RetryCeiling,
		ContextWindow:    config.Interview.ContextWindow,
		TechnicalTarget:  config.Interview.TechnicalQuestions,
		BehavioralTarget: config.Interview.BehavioralQuestions,
		PromptBudget:     config.Interview.PromptBudget,
	}

	return interview.NewEngine(st, gateway, validate.New(validate.Config{}), validate.NewLexiconScorer(), engineCfg, zlog)
}

func buildGenerator(ctx context.Context, cfg *AIConfig, zlog *zap.Logger) (ai.Generator, ai.Config) {
	if cfg == nil || !cfg.Enabled {
		zlog.Warn("ai provider disabled; interview will use fallback questions only")
		return nil, ai.Config{}
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		zlog.Fatal("unsupported ai provider", zap.String("provider", cfg.Provider))
	}

	if cfg.Gemini == nil {
		zlog.Fatal("gemini configuration is required when ai is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "gemini api key",
		File: cfg.Gemini.APIKeyFile,
		Env:  "GEMINI_API_KEY",
	})
	if err != nil {
		zlog.Fatal("loading gemini api key",
			zap.Error(err),
			zap.String("hint", "set ai.gemini.api-key-file in the config or the GEMINI_API_KEY environment variable"),
		)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		zlog.Fatal("creating gemini generator", zap.Error(err))
	}

	zlog.Info("ai provider configured",
		logger.StringFields(
			logger.StringField{Key: logger.FieldProvider, Value: "gemini"},
			logger.StringField{Key: logger.FieldModel, Value: generator.Model()},
		)...)

	return generator, ai.Config{
		MaxRetries:        cfg.Gemini.MaxRetries,
		Timeout:           time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
	}
}

// selectPersona resolves the interviewer persona from flag, config or an
// interactive prompt. Explicit values fail loudly when unknown; only the
// interactive path can produce a default, and that default is logged.
func selectPersona(cmd *cobra.Command, config *Config, zlog *zap.Logger) (persona.ID, error) {
	if flag := strings.TrimSpace(cmd.Flag("persona").Value.String()); flag != "" {
		return persona.ID(flag), nil
	}
	if config.Interview.Persona != "" {
		return persona.ID(config.Interview.Persona), nil
	}

	ids := persona.IDs()
	items := make([]string, len(ids))
	for i, id := range ids {
		p, _ := persona.Get(id)
		items[i] = fmt.Sprintf("%s (%s, %s)", id, p.Name, p.Title)
	}

	prompt := promptui.Select{
		Label: "Choose an interviewer persona",
		Items: items,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		zlog.Warn("persona prompt failed, using default persona",
			zap.String("persona", string(persona.Default().ID)),
			zap.Error(err),
		)
		return persona.Default().ID, nil
	}

	return ids[idx], nil
}
