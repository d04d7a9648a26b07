package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/ingest"
	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
)

var (
	ingestFile    string
	ingestPath    string
	ingestConsume bool
	ingestPublish bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest promo payloads from a JSONL file or the NATS promo subjects",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		switch {
		case ingestConsume && ingestPublish:
			return eris.New("--consume and --publish are mutually exclusive")
		case ingestConsume:
			if err := cfg.Validate("consume"); err != nil {
				return err
			}
		case ingestFile == "":
			return eris.New("--file is required unless --consume is set")
		default:
			mode := "ingest"
			if ingestPublish {
				mode = "consume"
			}
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}

		if ingestConsume {
			st, err := initStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			conn, err := ingest.Connect(cfg.NATS.URL, ingest.ConnOptions{Name: "promo-ingest"})
			if err != nil {
				return err
			}
			defer conn.Close()

			ing := ingest.New(st, ingest.WithMetrics(metrics.New()))
			zap.L().Info("consuming promo payloads",
				zap.String("url", cfg.NATS.URL),
				zap.String("prefix", cfg.NATS.SubjectPrefix),
				zap.String("queue", cfg.NATS.QueueGroup),
			)
			return ingest.NewSubscriber(conn, ing, cfg.NATS.SubjectPrefix, cfg.NATS.QueueGroup).Run(ctx)
		}

		payloads, err := readJSONL[model.RawPromoPayload](ingestFile)
		if err != nil {
			return err
		}
		if ingestPath != "" {
			path := model.PromoPath(ingestPath)
			if !path.Valid() {
				return eris.Errorf("unknown promo path %q", ingestPath)
			}
			for i := range payloads {
				if payloads[i].Path == "" {
					payloads[i].Path = path
				}
			}
		}

		if ingestPublish {
			return publishPayloads(cmd, payloads)
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		report := ingest.New(st).IngestBatch(ctx, payloads)
		return printReports(cmd, report)
	},
}

// publishPayloads sends payloads to the promo subjects and waits for each
// consumer acknowledgement.
func publishPayloads(cmd *cobra.Command, payloads []model.RawPromoPayload) error {
	ctx := cmd.Context()

	conn, err := ingest.Connect(cfg.NATS.URL, ingest.ConnOptions{Name: "promo-publish"})
	if err != nil {
		return err
	}
	defer conn.Close()

	pub := ingest.NewPublisher(conn, cfg.NATS.SubjectPrefix)
	report := model.BatchReport{Phase: "publish"}
	for _, p := range payloads {
		if ctx.Err() != nil {
			report.Skipped += len(payloads) - report.Total
			break
		}
		report.Total++
		ack, err := pub.Request(ctx, p)
		if err != nil {
			report.Unresolved++
			report.AddError(err)
			continue
		}
		switch ack.Status {
		case ingest.AckAccepted:
			report.Accepted++
		case ingest.AckDuplicate:
			report.Duplicates++
		default:
			report.Rejected++
			report.AddError(eris.Errorf("payload %s: %s: %s", p.ID, ack.Status, ack.Error))
		}
	}
	return printReports(cmd, report)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "JSONL file of promo payloads, - for stdin")
	ingestCmd.Flags().StringVar(&ingestPath, "path", "", "promo path for payloads that carry none (ad_transparency, email, website_subpage)")
	ingestCmd.Flags().BoolVar(&ingestConsume, "consume", false, "consume payloads from NATS until interrupted")
	ingestCmd.Flags().BoolVar(&ingestPublish, "publish", false, "publish file payloads to NATS instead of storing them")
	rootCmd.AddCommand(ingestCmd)
}
