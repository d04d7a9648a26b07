package ingest

import (
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// DecodeContent converts content from the declared charset to UTF-8 and
// returns the charset label that describes the returned content. Unknown
// labels and decode failures leave the content untouched.
func DecodeContent(content, charset string) (string, string) {
	label := strings.ToLower(strings.TrimSpace(charset))
	if label == "" || content == "" {
		return content, charset
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return content, charset
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return content, "utf-8"
	}

	decoded, err := enc.NewDecoder().String(content)
	if err != nil {
		return content, charset
	}
	return decoded, "utf-8"
}
