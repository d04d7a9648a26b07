package structure

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/promo-cli/internal/model"
)

// placeholders are oracle values that mean "not stated".
var placeholders = map[string]bool{
	"":        true,
	"n/a":     true,
	"na":      true,
	"unknown": true,
	"none":    true,
	"null":    true,
	"nil":     true,
	"-":       true,
	"--":      true,
	"tbd":     true,
}

func isPlaceholder(s string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(s))]
}

// mapCandidate copies one oracle candidate onto an offer. Values that do not
// fit the expected shape become nil and add a flag.
func mapCandidate(c Candidate, offer *model.StructuredOffer) {
	var flags []string
	text := func(field string) *string {
		s, ok := stringField(c[field])
		if !ok {
			flags = append(flags, model.FlagFieldUnparsed+":"+field)
			return nil
		}
		return s
	}

	offer.Category = text("category")
	offer.Subcategory = text("subcategory")
	offer.Service = text("service")
	offer.Description = text("description")

	price, ok := priceField(c["price"])
	if !ok {
		flags = append(flags, model.FlagPriceUnparsed)
	}
	offer.Price = price

	minutes, ok := durationField(c["duration"])
	if !ok {
		flags = append(flags, model.FlagDurationUnparsed)
	}
	offer.DurationMinutes = minutes

	offer.Flags = flags
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// stringField returns nil for null or placeholder strings. ok is false for
// any non-string JSON value.
func stringField(raw json.RawMessage) (*string, bool) {
	if isNull(raw) {
		return nil, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	if isPlaceholder(s) {
		return nil, true
	}
	s = strings.TrimSpace(s)
	return &s, true
}

// priceField accepts strings verbatim and renders numbers as strings.
func priceField(raw json.RawMessage) (*string, bool) {
	if isNull(raw) {
		return nil, true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch val := v.(type) {
	case string:
		if isPlaceholder(val) {
			return nil, true
		}
		s := strings.TrimSpace(val)
		return &s, true
	case json.Number:
		s := val.String()
		return &s, true
	default:
		return nil, false
	}
}

// durationField parses minutes from a number (taken as minutes) or a string
// such as "60 min", "1 hour" or "1.5 hrs".
func durationField(raw json.RawMessage) (*int, bool) {
	if isNull(raw) {
		return nil, true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch val := v.(type) {
	case float64:
		return positiveMinutes(val)
	case string:
		if isPlaceholder(val) {
			return nil, true
		}
		m, ok := ParseDuration(val)
		if !ok {
			return nil, false
		}
		return &m, true
	default:
		return nil, false
	}
}

func positiveMinutes(v float64) (*int, bool) {
	if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil, false
	}
	m := int(math.Round(v))
	if m == 0 {
		return nil, false
	}
	return &m, true
}

var (
	durationPartRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-z]+)?`)
	durationFiller = regexp.MustCompile(`^(?:[\s,.+~-]|and|approx|about)*$`)
)

// ParseDuration converts a free-text duration to whole minutes. A bare
// number is minutes. Parts are summed ("1 hour 30 min" is 90).
func ParseDuration(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	matches := durationPartRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return 0, false
	}

	var total float64
	var leftover strings.Builder
	prev := 0
	for _, m := range matches {
		leftover.WriteString(s[prev:m[0]])
		prev = m[1]

		n, err := strconv.ParseFloat(s[m[2]:m[3]], 64)
		if err != nil {
			return 0, false
		}
		unit := ""
		if m[4] >= 0 {
			unit = s[m[4]:m[5]]
		}
		switch unit {
		case "h", "hr", "hrs", "hour", "hours":
			total += n * 60
		case "", "m", "min", "mins", "minute", "minutes":
			if unit == "" && len(matches) > 1 {
				return 0, false
			}
			total += n
		default:
			return 0, false
		}
	}
	leftover.WriteString(s[prev:])

	if !durationFiller.MatchString(leftover.String()) {
		return 0, false
	}
	m, ok := positiveMinutes(total)
	if !ok {
		return 0, false
	}
	return *m, true
}
