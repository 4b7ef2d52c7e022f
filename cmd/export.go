package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talentscout/interviewer/internal/export"
	"github.com/talentscout/interviewer/internal/logger"
	"github.com/talentscout/interviewer/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export [session-id]",
	Short: "Export per-turn interview analytics to CSV",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runExport(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().BoolP("all", "a", false, "export every stored session")
	exportCmd.Flags().StringP("out", "o", ".", "directory to write CSV files into")
}

func runExport(cmd *cobra.Command, args []string) {
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

	outDir := cmd.Flag("out").Value.String()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		zlog.Fatal("creating output directory", zap.String("dir", outDir), zap.Error(err))
	}

	ids, err := sessionIDs(ctx, cmd, args, st)
	if err != nil {
		zlog.Fatal("resolving sessions to export", zap.Error(err))
	}
	if len(ids) == 0 {
		zlog.Info("nothing to export")
		return
	}

	// Sessions are independent; export them in parallel.
	group, groupCtx := errgroup.WithContext(ctx)
	for _, id := range ids {
		group.Go(func() error {
			return exportSession(groupCtx, st, id, outDir, zlog)
		})
	}

	if err := group.Wait(); err != nil {
		zlog.Fatal("exporting sessions", zap.Error(err))
	}

	zlog.Info("export complete", zap.Int("sessions", len(ids)), zap.String("dir", outDir))
}

func sessionIDs(ctx context.Context, cmd *cobra.Command, args []string, st *store.Store) ([]string, error) {
	if cmd.Flag("all").Value.String() == "true" {
		summaries, err := st.List(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(summaries))
		for i, summary := range summaries {
			ids[i] = summary.ID
		}
		return ids, nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("a session id or --all is required")
	}
	return []string{args[0]}, nil
}

func exportSession(ctx context.Context, st *store.Store, id, outDir string, zlog *zap.Logger) error {
	session, err := st.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load session %s: %w", id, err)
	}

	path := filepath.Join(outDir, id+".csv")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	rows := export.Rows(session)
	if err := export.WriteCSV(file, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	zlog.Info("session exported",
		logger.SessionFields(id, session.Stage.String(),
			zap.String("file", path),
			zap.Int("turns", len(rows)))...)
	return nil
}
