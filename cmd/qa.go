package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/qa"
)

var (
	qaRescore    bool
	qaBusinessID string
	qaLimit      int

	reviewStatus   string
	reviewReviewer string
	reviewNotes    string
)

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Score structured offers against web search",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("qa"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		report, err := newQAEngine(st, metrics.New()).Run(ctx, qa.Options{
			Rescore:    qaRescore,
			BusinessID: qaBusinessID,
			Limit:      qaLimit,
		})
		if err != nil {
			return err
		}
		return printReports(cmd, report)
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <offer-id>",
	Short: "Record a human pass/fail decision for an offer in review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := newQAEngine(st, nil).Review(ctx, qa.Decision{
			OfferID:  args[0],
			Status:   model.QAStatus(reviewStatus),
			Reviewer: reviewReviewer,
			Notes:    reviewNotes,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	qaCmd.Flags().BoolVar(&qaRescore, "rescore", false, "score current offers again, appending new results")
	qaCmd.Flags().StringVar(&qaBusinessID, "business", "", "only score offers of this business")
	qaCmd.Flags().IntVar(&qaLimit, "limit", 0, "max offers to score (0 for all)")

	reviewCmd.Flags().StringVar(&reviewStatus, "status", "", "decision: pass or fail (required)")
	reviewCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "reviewer name (required)")
	reviewCmd.Flags().StringVar(&reviewNotes, "notes", "", "review notes")
	_ = reviewCmd.MarkFlagRequired("status")
	_ = reviewCmd.MarkFlagRequired("reviewer")

	rootCmd.AddCommand(qaCmd, reviewCmd)
}
