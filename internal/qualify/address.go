package qualify

import (
	"regexp"
	"strings"
)

// stateNames maps lowercase US state abbreviations to full names.
var stateNames = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"fl": "florida", "ga": "georgia", "hi": "hawaii", "id": "idaho",
	"il": "illinois", "in": "indiana", "ia": "iowa", "ks": "kansas",
	"ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
	"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi",
	"mo": "missouri", "mt": "montana", "ne": "nebraska", "nv": "nevada",
	"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico", "ny": "new york",
	"nc": "north carolina", "nd": "north dakota", "oh": "ohio", "ok": "oklahoma",
	"or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
	"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah",
	"vt": "vermont", "va": "virginia", "wa": "washington", "wv": "west virginia",
	"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia",
}

var fullStateNames = func() map[string]bool {
	m := make(map[string]bool, len(stateNames))
	for _, full := range stateNames {
		m[full] = true
	}
	return m
}()

var zipSuffix = regexp.MustCompile(`\s*\d{5}(?:-\d{4})?$`)

// CityFromAddress extracts the city from a US-style address such as
// "12 Main St, Austin, TX 78701". It returns "" when no state component
// can be found.
func CityFromAddress(address string) string {
	parts := strings.Split(address, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if n := len(parts); n > 0 {
		last := strings.ToLower(parts[n-1])
		if last == "usa" || last == "us" || last == "united states" {
			parts = parts[:n-1]
		}
	}

	for i := len(parts) - 1; i > 0; i-- {
		if isState(zipSuffix.ReplaceAllString(parts[i], "")) {
			return parts[i-1]
		}
	}
	return ""
}

func isState(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return false
	}
	if _, ok := stateNames[lower]; ok {
		return true
	}
	return fullStateNames[lower]
}
