package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sells-group/promo-cli/internal/consolidate"
	"github.com/sells-group/promo-cli/internal/enrich"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/qualify"
	"github.com/sells-group/promo-cli/internal/store"
)

var qualifyCmd = &cobra.Command{
	Use:   "qualify",
	Short: "Re-derive qualified businesses from the latest raw captures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			report, err := qualify.Run(ctx, st, qualify.NewCriteria(cfg.Qualify, rules))
			if err != nil {
				return err
			}
			return printReports(cmd, report)
		})
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Normalize enrichment payloads into canonical web and social links",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			n, err := enrich.NewNormalizer(rules)
			if err != nil {
				return err
			}
			report, err := enrich.Run(ctx, st, n)
			if err != nil {
				return err
			}
			return printReports(cmd, report)
		})
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge qualified businesses and enrichment into master records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			report, err := consolidate.Run(ctx, st)
			if err != nil {
				return err
			}
			return printReports(cmd, report)
		})
	},
}

// consolidateAll runs qualify, enrich and consolidate in order.
func consolidateAll(ctx context.Context, st store.Store) ([]model.BatchReport, error) {
	var reports []model.BatchReport

	q, err := qualify.Run(ctx, st, qualify.NewCriteria(cfg.Qualify, rules))
	reports = append(reports, q)
	if err != nil {
		return reports, err
	}

	n, err := enrich.NewNormalizer(rules)
	if err != nil {
		return reports, err
	}
	e, err := enrich.Run(ctx, st, n)
	reports = append(reports, e)
	if err != nil {
		return reports, err
	}

	c, err := consolidate.Run(ctx, st)
	reports = append(reports, c)
	return reports, err
}

// withStore opens the store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	ctx := cmd.Context()
	st, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func init() {
	rootCmd.AddCommand(qualifyCmd, enrichCmd, consolidateCmd)
}
