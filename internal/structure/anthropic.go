package structure

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/promo-cli/internal/resilience"
	"github.com/sells-group/promo-cli/pkg/anthropic"
)

const systemPrompt = `You extract promotional offers from marketing content sent by med spas and
aesthetic clinics (ads, emails, website pages).

Return ONLY a JSON object matching this schema:
%SCHEMA%

Rules:
- One entry per distinct offer. Return {"offers": []} when the content has no promotion.
- Use null for any field the content does not state. Never guess or write placeholders such as "N/A".
- Copy prices exactly as advertised.`

// AnthropicOracle implements Oracle with the Anthropic Messages API.
type AnthropicOracle struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicOracle creates an oracle that calls model.
func NewAnthropicOracle(client anthropic.Client, model string, maxTokens int64) *AnthropicOracle {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicOracle{client: client, model: model, maxTokens: maxTokens}
}

// Extract sends the content and decodes the reply. API errors with a
// retryable status and replies that are not valid JSON are transient.
func (o *AnthropicOracle) Extract(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Content) == "" {
		return Response{Model: o.model}, nil
	}
	schema := req.Schema
	if schema == "" {
		schema = Schema
	}

	temp := 0.0
	resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		System:      anthropic.CachedSystem(strings.Replace(systemPrompt, "%SCHEMA%", schema, 1), "1h"),
		Messages:    []anthropic.Message{{Role: "user", Content: req.Content}},
		Temperature: &temp,
	})
	if err != nil {
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return Response{}, resilience.NewTransientError(err, code)
		}
		return Response{}, err
	}
	resp.Usage.LogCost(o.model, "structure")

	offers, err := decodeOffers(resp.Text())
	if err != nil {
		return Response{}, resilience.NewTransientError(err, 0)
	}

	model := resp.Model
	if model == "" {
		model = o.model
	}
	return Response{Offers: offers, Model: model}, nil
}

// decodeOffers accepts {"offers": [...]} or a bare array, optionally
// wrapped in a code fence or surrounded by prose.
func decodeOffers(text string) ([]Candidate, error) {
	body := cleanJSON(text)
	if body == "" {
		return nil, eris.New("structure: oracle reply has no JSON")
	}

	if strings.HasPrefix(body, "[") {
		var offers []Candidate
		if err := json.Unmarshal([]byte(body), &offers); err != nil {
			return nil, eris.Wrap(err, "structure: decode oracle offers")
		}
		return offers, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
		return nil, eris.Wrap(err, "structure: decode oracle reply")
	}
	raw, ok := wrapper["offers"]
	if !ok {
		return nil, eris.New("structure: oracle reply has no offers key")
	}
	var offers []Candidate
	if err := json.Unmarshal(raw, &offers); err != nil {
		return nil, eris.Wrap(err, "structure: decode oracle offers")
	}
	return offers, nil
}

// cleanJSON strips code fences and surrounding prose, returning the span
// from the first opening bracket to its matching last closing bracket.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(text, closer)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}
