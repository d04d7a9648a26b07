package enrich

import (
	"encoding/base64"
	"net"
	"net/url"
	"strings"
)

// CanonicalDomain reduces a raw website string to its lower-case host
// without protocol, "www.", port, path, query or fragment. Redirect links
// from known search engines and social sites are unwrapped first. It returns "" for
// input that has no usable host.
func CanonicalDomain(raw string) string {
	host, _ := parseWebsite(raw)
	return host
}

// parseWebsite returns the canonical host and the URL path of raw.
func parseWebsite(raw string) (host, path string) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", ""
	}

	target = unwrapRedirect(target)
	if !strings.Contains(target, "://") {
		target = "http://" + strings.TrimPrefix(target, "//")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", ""
	}

	host = strings.ToLower(u.Hostname())
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if !validHost(host) {
		return "", ""
	}
	return host, u.Path
}

// redirector is an outbound-link wrapper whose target sits in a query
// parameter.
type redirector struct {
	host   func(string) bool
	path   string
	param  string
	decode func(string) string
}

var redirectors = []redirector{
	{host: isGoogleHost, path: "/url", param: "q"},
	{host: isGoogleHost, path: "/url", param: "url"},
	{host: exactHost("bing.com"), path: "/ck/a", param: "u", decode: decodeBingTarget},
	{host: exactHost("l.facebook.com", "lm.facebook.com"), path: "/l.php", param: "u"},
	{host: exactHost("l.instagram.com"), path: "/", param: "u"},
	{host: exactHost("duckduckgo.com"), path: "/l/", param: "uddg"},
}

// unwrapRedirect returns the target of a known search or social redirect
// link, or s unchanged. Query parameters on any other site are left alone.
func unwrapRedirect(s string) string {
	target := s
	if !strings.Contains(target, "://") {
		target = "http://" + strings.TrimPrefix(target, "//")
	}
	u, err := url.Parse(target)
	if err != nil {
		return s
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, r := range redirectors {
		if !r.host(host) || path != r.path {
			continue
		}
		v := strings.TrimSpace(u.Query().Get(r.param))
		if r.decode != nil {
			v = r.decode(v)
		}
		if v != "" && strings.Contains(v, ".") {
			return v
		}
	}
	return s
}

func isGoogleHost(host string) bool {
	return host == "google.com" || strings.HasPrefix(host, "google.")
}

func exactHost(hosts ...string) func(string) bool {
	return func(host string) bool {
		for _, h := range hosts {
			if host == h {
				return true
			}
		}
		return false
	}
}

// decodeBingTarget decodes Bing's "a1"-prefixed base64url click target.
func decodeBingTarget(v string) string {
	if !strings.HasPrefix(v, "a1") {
		return v
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(v[2:], "="))
	if err != nil {
		return ""
	}
	return string(b)
}

func validHost(host string) bool {
	if host == "" || strings.ContainsAny(host, " \t\r\n") {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if !strings.Contains(host, ".") {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" {
			return false
		}
	}
	return true
}

// hostMatches reports whether host equals domain or is a subdomain of it.
func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
