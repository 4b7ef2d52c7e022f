package cmd

import (
	"errors"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "talentscout"
)

type Config struct {
	Store     *StoreConfig     `mapstructure:"store"`
	Interview *InterviewConfig `mapstructure:"interview"`
	AI        *AIConfig        `mapstructure:"ai"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type InterviewConfig struct {
	Persona             string `mapstructure:"persona"`
	RetryCeiling        int    `mapstructure:"retry-ceiling"`
	ContextWindow       int    `mapstructure:"context-window"`
	TechnicalQuestions  int    `mapstructure:"technical-questions"`
	BehavioralQuestions int    `mapstructure:"behavioral-questions"`
	PromptBudget        int    `mapstructure:"prompt-budget"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile        string `mapstructure:"api-key-file"`
	Model             string `mapstructure:"model"`
	MaxRetries        int    `mapstructure:"max-retries"`
	TimeoutSeconds    int    `mapstructure:"timeout-seconds"`
	RequestsPerMinute int    `mapstructure:"requests-per-minute"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "talentscout is a cli that conducts structured, AI-assisted technical interviews",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("store.path", "TALENTSCOUT_DB"); err != nil {
		log.Fatalf("binding TALENTSCOUT_DB environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is talentscout.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// The config file is optional: every setting has a default and the
	// interview can run offline on the fallback bank alone.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.Store == nil {
		config.Store = &StoreConfig{}
	}
	if config.Store.Path == "" {
		config.Store.Path = viper.GetString("store.path")
	}
	if config.Store.Path == "" {
		config.Store.Path = app + ".db"
	}
	if config.Interview == nil {
		config.Interview = &InterviewConfig{}
	}

	return config, nil
}
