package qa

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/promo-cli/internal/resilience"
	"github.com/sells-group/promo-cli/pkg/jina"
)

type fakeJina struct {
	resp *jina.SearchResponse
	err  error
	n    int
}

func (f *fakeJina) Search(_ context.Context, _ string) (*jina.SearchResponse, error) {
	f.n++
	return f.resp, f.err
}

func TestJinaSearcher_Snippets(t *testing.T) {
	client := &fakeJina{resp: &jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "One", Description: "first"},
		{Title: "Two"},
		{Title: "Three"},
	}}}
	s := NewJinaSearcher(client, nil, 2)

	got, err := s.Search(context.Background(), "botox austin")
	require.NoError(t, err)
	assert.Equal(t, []string{"One\nfirst", "Two"}, got)
}

func TestJinaSearcher_StatusClassification(t *testing.T) {
	s := NewJinaSearcher(&fakeJina{err: &jina.StatusError{Code: 503, Body: "busy"}}, nil, 0)
	_, err := s.Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	s = NewJinaSearcher(&fakeJina{err: &jina.StatusError{Code: 401, Body: "bad key"}}, nil, 0)
	_, err = s.Search(context.Background(), "q")
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestJinaSearcher_BreakerOpens(t *testing.T) {
	client := &fakeJina{err: &jina.StatusError{Code: 502, Body: "bad gateway"}}
	breaker := resilience.NewBreaker("test-search", resilience.BreakerConfig{
		MinRequests:  2,
		FailureRatio: 0.5,
		OpenTimeout:  time.Minute,
	})
	s := NewJinaSearcher(client, breaker, 0)

	for i := 0; i < 2; i++ {
		_, err := s.Search(context.Background(), "q")
		require.Error(t, err)
	}
	_, err := s.Search(context.Background(), "q")
	require.Error(t, err)
	assert.True(t, resilience.IsCircuitOpen(err))
	assert.Equal(t, 2, client.n)
}

func TestJinaSearcher_PermanentErrorKeepsBreakerClosed(t *testing.T) {
	client := &fakeJina{err: eris.New("jina: create search request")}
	breaker := resilience.NewBreaker("test-search-perm", resilience.BreakerConfig{MinRequests: 1, FailureRatio: 0.1})
	s := NewJinaSearcher(client, breaker, 0)

	for i := 0; i < 3; i++ {
		_, err := s.Search(context.Background(), "q")
		require.Error(t, err)
		assert.False(t, resilience.IsCircuitOpen(err))
	}
	assert.Equal(t, "closed", breaker.State())
}
