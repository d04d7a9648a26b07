package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/config"
)

var (
	cfg   *config.Config
	rules *config.Rules
)

var rootCmd = &cobra.Command{
	Use:   "promo",
	Short: "Business promotion consolidation and QA pipeline",
	Long:  "Stages raw business captures, consolidates qualified businesses into master records, ingests promotional content from three paths, structures it into offers with an LLM and scores those offers against web search.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		r, err := config.LoadRules(cfg.RulesPath)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		rules = r

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
