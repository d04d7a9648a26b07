package qa

import (
	"context"
	"errors"

	"github.com/sells-group/promo-cli/internal/resilience"
	"github.com/sells-group/promo-cli/pkg/jina"
)

// Searcher returns ranked text snippets for a query. Implementations return
// a resilience.TransientError for failures worth retrying.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// SearchFunc adapts a function to Searcher.
type SearchFunc func(ctx context.Context, query string) ([]string, error)

// Search calls f.
func (f SearchFunc) Search(ctx context.Context, query string) ([]string, error) {
	return f(ctx, query)
}

// JinaSearcher implements Searcher with Jina search behind a circuit breaker.
type JinaSearcher struct {
	client  jina.Client
	breaker *resilience.Breaker
	// maxResults caps the snippets used for scoring; 0 keeps all.
	maxResults int
}

// NewJinaSearcher creates a JinaSearcher. A nil breaker gets the default
// search breaker.
func NewJinaSearcher(client jina.Client, breaker *resilience.Breaker, maxResults int) *JinaSearcher {
	if breaker == nil {
		breaker = resilience.NewBreaker("jina-search", resilience.DefaultBreakerConfig())
	}
	return &JinaSearcher{client: client, breaker: breaker, maxResults: maxResults}
}

// Search runs query through the breaker.
func (s *JinaSearcher) Search(ctx context.Context, query string) ([]string, error) {
	var snippets []string
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := s.client.Search(ctx, query)
		if err != nil {
			var se *jina.StatusError
			if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.Code) {
				return resilience.NewTransientError(err, se.Code)
			}
			return err
		}
		snippets = resp.Snippets()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.maxResults > 0 && len(snippets) > s.maxResults {
		snippets = snippets[:s.maxResults]
	}
	return snippets, nil
}
