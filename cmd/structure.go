package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/promo-cli/internal/metrics"
)

var (
	structureLimit         int
	structureSkipProcessed bool
)

var structureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Extract structured offers from pending promo payloads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("structure"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := newStructureEngine(st, metrics.New(), structureSkipProcessed)
		report, err := engine.RunPending(ctx, structureLimit)
		if err != nil {
			return err
		}
		return printReports(cmd, report)
	},
}

func init() {
	structureCmd.Flags().IntVar(&structureLimit, "limit", 0, "max payloads to structure (0 for all)")
	structureCmd.Flags().BoolVar(&structureSkipProcessed, "skip-processed", false, "skip payloads that already have a processed outcome")
	rootCmd.AddCommand(structureCmd)
}
