package model

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// ErrValidation marks records rejected for a malformed identity or a missing
// required field. Nothing of a rejected record is written.
var ErrValidation = eris.New("validation error")

// Invalidf wraps ErrValidation with a formatted detail.
func Invalidf(format string, args ...any) error {
	return eris.Wrapf(ErrValidation, format, args...)
}

// maxIdentityLen bounds producer-assigned identifiers.
const maxIdentityLen = 256

// ValidateIdentity checks that an identifier is non-blank, bounded, and free
// of whitespace and control characters.
func ValidateIdentity(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return Invalidf("%s is required", field)
	}
	if len(id) > maxIdentityLen {
		return Invalidf("%s exceeds %d bytes", field, maxIdentityLen)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return Invalidf("%s contains whitespace or control characters", field)
		}
	}
	return nil
}
