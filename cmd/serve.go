package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/promo-cli/internal/api"
	"github.com/sells-group/promo-cli/internal/ingest"
	"github.com/sells-group/promo-cli/internal/metrics"
)

var (
	servePort    int
	serveConsume bool
	serveOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve promo ingestion, QA review and metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if serveConsume {
			if err := cfg.Validate("consume"); err != nil {
				return err
			}
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		m := metrics.New()
		ing := ingest.New(st, ingest.WithMetrics(m))
		h := api.New(ing, newQAEngine(st, m), m)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           h.Router(serveOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		var sub *ingest.Subscriber
		if serveConsume {
			conn, err := ingest.Connect(cfg.NATS.URL, ingest.ConnOptions{Name: "promo-serve"})
			if err != nil {
				return err
			}
			defer conn.Close()
			sub = ingest.NewSubscriber(conn, ing, cfg.NATS.SubjectPrefix, cfg.NATS.QueueGroup)
		}

		g, gCtx := errgroup.WithContext(ctx)
		if sub != nil {
			g.Go(func() error { return sub.Run(gCtx) })
		}
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveConsume, "consume", false, "also consume promo payloads from NATS")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "cors-origin", nil, "allowed CORS origins")
	rootCmd.AddCommand(serveCmd)
}
