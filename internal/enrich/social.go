package enrich

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	facebookHosts  = []string{"facebook.com", "fb.com"}
	instagramHosts = []string{"instagram.com", "instagr.am"}

	facebookName  = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	instagramName = regexp.MustCompile(`^[A-Za-z0-9._]+$`)
	numericID     = regexp.MustCompile(`^\d+$`)
)

type platform int

const (
	facebook platform = iota
	instagram
)

// socialURL returns the canonical profile URL for link on the given
// platform, or "" when link is not a well-formed profile link.
func (n *Normalizer) socialURL(link string, p platform) string {
	target := unwrapRedirect(strings.TrimSpace(link))
	if target == "" {
		return ""
	}
	if !strings.Contains(target, "://") {
		target = "https://" + strings.TrimPrefix(target, "//")
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "web.", "mobile.", "business."} {
		host = strings.TrimPrefix(host, prefix)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	first := segments[0]
	if first == "" {
		return ""
	}

	switch p {
	case facebook:
		if !matchesAny(host, facebookHosts) {
			return ""
		}
		if strings.EqualFold(first, "profile.php") {
			id := u.Query().Get("id")
			if !numericID.MatchString(id) {
				return ""
			}
			return "https://www.facebook.com/profile.php?id=" + id
		}
		if n.reserved[strings.ToLower(first)] || !facebookName.MatchString(first) {
			return ""
		}
		return "https://www.facebook.com/" + first
	case instagram:
		if !matchesAny(host, instagramHosts) {
			return ""
		}
		if n.reserved[strings.ToLower(first)] || !instagramName.MatchString(first) {
			return ""
		}
		return "https://www.instagram.com/" + first
	}
	return ""
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d {
			return true
		}
	}
	return false
}
