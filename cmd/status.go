package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/store"
)

var (
	statusLimit int
	statusJSON  bool
)

// pipelineStatus summarizes work a run leaves behind.
type pipelineStatus struct {
	ActiveMasters   int                        `json:"active_masters"`
	PendingPayloads int                        `json:"pending_payloads"`
	Unresolved      []model.StructuringOutcome `json:"unresolved"`
	QAUnresolved    []model.QAUnresolved       `json:"qa_unresolved"`
	ReviewQueue     []model.QAResult           `json:"review_queue"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending payloads, unresolved work and the review queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, st store.Store) error {
			s, err := loadStatus(ctx, st, statusLimit)
			if err != nil {
				return err
			}
			if statusJSON {
				return printJSON(cmd, s)
			}
			return printStatus(cmd, s)
		})
	},
}

func loadStatus(ctx context.Context, st store.Store, limit int) (pipelineStatus, error) {
	var s pipelineStatus

	masters, err := st.ListMasters(ctx, true)
	if err != nil {
		return s, err
	}
	s.ActiveMasters = len(masters)

	pending, err := st.ListPromoPayloads(ctx, store.PayloadFilter{Unprocessed: true})
	if err != nil {
		return s, err
	}
	s.PendingPayloads = len(pending)

	s.Unresolved, err = st.ListOutcomes(ctx, store.OutcomeFilter{
		Status:     model.OutcomeUnresolved,
		LatestOnly: true,
		Limit:      limit,
	})
	if err != nil {
		return s, err
	}

	s.QAUnresolved, err = st.ListQAUnresolved(ctx, limit)
	if err != nil {
		return s, err
	}

	s.ReviewQueue, err = st.CurrentQAResults(ctx, store.QAFilter{Status: model.QAReview, Limit: limit})
	if err != nil {
		return s, err
	}
	return s, nil
}

func printStatus(cmd *cobra.Command, s pipelineStatus) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Active masters:\t%d\n", s.ActiveMasters)
	fmt.Fprintf(w, "Pending payloads:\t%d\n", s.PendingPayloads)
	fmt.Fprintf(w, "Unresolved outcomes:\t%d\n", len(s.Unresolved))
	fmt.Fprintf(w, "QA unresolved:\t%d\n", len(s.QAUnresolved))
	fmt.Fprintf(w, "Awaiting review:\t%d\n", len(s.ReviewQueue))

	if len(s.Unresolved) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "PAYLOAD\tATTEMPTS\tERROR")
		for _, o := range s.Unresolved {
			fmt.Fprintf(w, "%s\t%d\t%s\n", o.PayloadID, o.Attempts, o.Error)
		}
	}
	if len(s.QAUnresolved) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "OFFER\tBUSINESS\tATTEMPTS\tERROR")
		for _, u := range s.QAUnresolved {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", u.OfferID, u.BusinessID, u.Attempts, u.Error)
		}
	}
	if len(s.ReviewQueue) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "OFFER\tBUSINESS\tSCORE\tNOTES")
		for _, r := range s.ReviewQueue {
			notes := ""
			if r.Notes != nil {
				notes = *r.Notes
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", r.OfferID, r.BusinessID, r.Score, notes)
		}
	}
	return w.Flush()
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(context.Context, store.Store) error {
			fmt.Fprintf(cmd.OutOrStdout(), "store migrated (%s)\n", cfg.Store.Driver)
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max unresolved and review items to list")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd, migrateCmd)
}
