// Package structure turns raw promotional payloads into structured offers
// through an external extraction oracle.
package structure

import (
	"context"
	"encoding/json"
)

// Schema is the target shape the oracle fills for every offer it finds.
const Schema = `{
  "offers": [
    {
      "category": "string or null (e.g. Injectables, Laser, Facials, Body)",
      "subcategory": "string or null (e.g. Neurotoxin, Dermal filler)",
      "service": "string or null (the specific treatment, e.g. Botox, HydraFacial)",
      "price": "string or null (as advertised, e.g. \"$10/unit\", \"20% off\")",
      "duration": "string or null (e.g. \"60 min\", \"1.5 hours\")",
      "description": "string or null (one sentence summary of the promotion)"
    }
  ]
}`

// Request is one extraction call.
type Request struct {
	Content string
	Schema  string
}

// Candidate is one offer as returned by the oracle, keyed by schema field.
// Values are kept raw so unexpected shapes can be flagged instead of failing.
type Candidate map[string]json.RawMessage

// Response is the oracle's answer. No offers means the payload carries no
// promotion, which is a valid outcome.
type Response struct {
	Offers []Candidate
	Model  string
}

// Oracle extracts offers from raw content. Implementations return a
// resilience.TransientError for failures worth retrying.
type Oracle interface {
	Extract(ctx context.Context, req Request) (Response, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, req Request) (Response, error)

// Extract calls f.
func (f OracleFunc) Extract(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
