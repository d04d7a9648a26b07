package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/config"
	"github.com/sells-group/promo-cli/internal/metrics"
	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/qa"
	"github.com/sells-group/promo-cli/internal/store"
	"github.com/sells-group/promo-cli/internal/structure"
	anthropicpkg "github.com/sells-group/promo-cli/pkg/anthropic"
	"github.com/sells-group/promo-cli/pkg/jina"
)

// searchResults caps the snippets a QA search contributes to a score.
const searchResults = 5

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 8 << 20

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(c.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newStructureEngine wires the Anthropic oracle into a structuring engine.
func newStructureEngine(st store.Store, m *metrics.Pipeline, skipProcessed bool) *structure.Engine {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	oracle := structure.NewAnthropicOracle(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)

	opts := structure.OptionsFromConfig(cfg.Structure)
	opts.SkipProcessed = opts.SkipProcessed || skipProcessed
	return structure.NewEngine(st, oracle, m, opts)
}

// newQAEngine wires Jina search into a QA engine. The engine can record
// reviews without a search key.
func newQAEngine(st store.Store, m *metrics.Pipeline) *qa.Engine {
	client := jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.SearchBaseURL))
	searcher := qa.NewJinaSearcher(client, nil, searchResults)
	return qa.NewEngine(st, searcher, m, qa.ConfigFrom(cfg.QA, rules))
}

// readJSONL decodes one T per non-blank line of the file at path, or of
// stdin when path is "-".
func readJSONL[T any](path string) ([]T, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close()
		r = f
	}

	var out []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, eris.Wrapf(err, "%s: line %d", path, line)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return out, nil
}

// printJSON writes v to the command's stdout as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReports logs and prints the phase reports of a command.
func printReports(cmd *cobra.Command, reports ...model.BatchReport) error {
	for _, r := range reports {
		zap.L().Info("phase complete", zap.Object("report", r))
	}
	if len(reports) == 1 {
		return printJSON(cmd, reports[0])
	}
	return printJSON(cmd, reports)
}
