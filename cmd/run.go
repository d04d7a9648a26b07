package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/qa"
)

var (
	runSkipProcessed bool
	runSkipQA        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run qualify, enrich, consolidate, structure and qa in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mode := "run"
		if runSkipQA {
			mode = "structure"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		m := metrics.New()
		reports, err := consolidateAll(ctx, st)
		if err != nil {
			_ = printReports(cmd, reports...)
			return err
		}

		sr, err := newStructureEngine(st, m, runSkipProcessed).RunPending(ctx, 0)
		reports = append(reports, sr)
		if err != nil {
			_ = printReports(cmd, reports...)
			return err
		}

		if runSkipQA {
			zap.L().Info("qa skipped")
			return printReports(cmd, reports...)
		}

		qr, err := newQAEngine(st, m).Run(ctx, qa.Options{})
		reports = append(reports, qr)
		if err != nil {
			_ = printReports(cmd, reports...)
			return err
		}
		return printReports(cmd, reports...)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSkipProcessed, "skip-processed", false, "skip payloads that already have a processed outcome")
	runCmd.Flags().BoolVar(&runSkipQA, "skip-qa", false, "stop after structuring")
	rootCmd.AddCommand(runCmd)
}
