package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/talentscout/interviewer/internal/logger"
	"github.com/talentscout/interviewer/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored interview sessions",
	Run: func(_ *cobra.Command, _ []string) {
		listSessions()
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func listSessions() {
	ctx := context.Background()

	zlog, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		zlog.Fatal("getting a config", zap.Error(err))
	}

	st, err := store.Open(config.Store.Path, zlog)
	if err != nil {
		zlog.Fatal("opening session store", zap.Error(err))
	}
	defer st.Close()

	summaries, err := st.List(ctx)
	if err != nil {
		zlog.Fatal("listing sessions", zap.Error(err))
	}

	if len(summaries) == 0 {
		fmt.Println("no stored sessions")
		return
	}

	for _, summary := range summaries {
		fmt.Printf("%s  %-10s %-22s %-18s %s\n",
			summary.ID,
			summary.Status,
			summary.Stage,
			summary.Persona,
			summary.UpdatedAt.Local().Format(time.RFC3339),
		)
	}
}
