package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/model"
)

var stageFile string

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Append raw captures to the staging store",
}

var stageBusinessesCmd = &cobra.Command{
	Use:   "businesses",
	Short: "Stage raw business records from a JSONL file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		recs, err := readJSONL[model.RawBusinessRecord](stageFile)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range recs {
			if recs[i].CapturedAt.IsZero() {
				recs[i].CapturedAt = now
			}
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		valid, report := validRecords(recs)
		n, err := st.AppendRawBusinesses(ctx, valid)
		if err != nil {
			return eris.Wrap(err, "stage businesses")
		}
		report.Accepted = n
		return printReports(cmd, report)
	},
}

var stageEnrichmentCmd = &cobra.Command{
	Use:   "enrichment",
	Short: "Stage raw enrichment payloads from a JSONL file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		payloads, err := readJSONL[model.RawEnrichmentPayload](stageFile)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range payloads {
			if payloads[i].CapturedAt.IsZero() {
				payloads[i].CapturedAt = now
			}
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		valid, report := validRecords(payloads)
		n, err := st.AppendRawEnrichment(ctx, valid)
		if err != nil {
			return eris.Wrap(err, "stage enrichment")
		}
		report.Accepted = n
		return printReports(cmd, report)
	},
}

// validRecords splits out records that fail validation so one bad line
// does not abort the batch.
func validRecords[T interface{ Validate() error }](recs []T) ([]T, model.BatchReport) {
	report := model.BatchReport{Phase: "stage", Total: len(recs)}
	valid := make([]T, 0, len(recs))
	for i, r := range recs {
		if err := r.Validate(); err != nil {
			report.Rejected++
			report.AddError(eris.Wrapf(err, "record %d", i+1))
			zap.L().Warn("rejecting staged record", zap.Int("index", i), zap.Error(err))
			continue
		}
		valid = append(valid, r)
	}
	return valid, report
}

func init() {
	stageCmd.PersistentFlags().StringVar(&stageFile, "file", "", "JSONL file to stage, - for stdin (required)")
	_ = stageCmd.MarkPersistentFlagRequired("file")
	stageCmd.AddCommand(stageBusinessesCmd, stageEnrichmentCmd)
	rootCmd.AddCommand(stageCmd)
}
