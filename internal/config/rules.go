package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules holds the list-valued pipeline policy: relevance keywords, platform
// classification, social path block-list, QA allow-list and stop words.
type Rules struct {
	Keywords            []string       `yaml:"keywords"`
	Platforms           []PlatformRule `yaml:"platforms"`
	ReservedSocialPaths []string       `yaml:"reserved_social_paths"`
	AllowList           []string       `yaml:"allow_list"`
	StopWords           []string       `yaml:"stop_words"`
}

// PlatformRule classifies a website as a known non-canonical platform. A
// website matches when its host equals or is a subdomain of one of Domains,
// or when its path matches one of PathPatterns (regular expressions).
type PlatformRule struct {
	Flag         string   `yaml:"flag"`
	Domains      []string `yaml:"domains"`
	PathPatterns []string `yaml:"path_patterns"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return &Rules{
		Keywords: []string{
			"medspa", "med spa", "medical spa", "aesthetic", "botox", "injectable",
			"filler", "laser", "skin care", "skincare", "facial", "dermatology",
			"wellness", "day spa", "beauty",
		},
		Platforms: []PlatformRule{
			{Flag: "link_aggregator", Domains: []string{"linktr.ee", "linkin.bio", "beacons.ai", "lnk.bio", "campsite.bio"}},
			{Flag: "booking_platform", Domains: []string{
				"vagaro.com", "booksy.com", "glossgenius.com", "mindbodyonline.com",
				"schedulicity.com", "square.site", "fresha.com", "boulevard.io", "janeapp.com",
			}},
			{Flag: "site_builder", Domains: []string{"ueniweb.com", "wixsite.com", "godaddysites.com", "business.site"}},
			{Flag: "image_hosting", Domains: []string{"instagram.com", "pinterest.com", "imgur.com", "flickr.com"}},
			{Flag: "location_suffix", PathPatterns: []string{`^/(locations?|center|clinics?|studios?)/[^/]+`}},
		},
		ReservedSocialPaths: []string{
			"login", "signup", "explore", "search", "home", "about", "contact",
			"privacy", "terms", "help", "settings", "profile", "notifications",
			"messages", "sharer", "sharer.php", "share", "dialog", "plugins",
			"tr", "p", "reel", "reels", "stories", "accounts", "watch", "groups",
			"events", "pages", "hashtag",
		},
		StopWords: []string{
			"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "in",
			"is", "it", "of", "on", "or", "our", "that", "the", "this", "to",
			"with", "you", "your", "we", "per", "all", "new", "get",
		},
	}
}

// LoadRules reads a YAML rules file with a top-level "rules" key. Sections
// absent from the file keep their built-in defaults. An empty path returns
// the defaults.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read rules %s", path)
	}

	var wrapper struct {
		Rules Rules `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse rules")
	}

	loaded := wrapper.Rules
	if len(loaded.Keywords) > 0 {
		rules.Keywords = loaded.Keywords
	}
	if len(loaded.Platforms) > 0 {
		rules.Platforms = loaded.Platforms
	}
	if len(loaded.ReservedSocialPaths) > 0 {
		rules.ReservedSocialPaths = loaded.ReservedSocialPaths
	}
	if len(loaded.StopWords) > 0 {
		rules.StopWords = loaded.StopWords
	}
	rules.AllowList = loaded.AllowList

	for _, p := range rules.Platforms {
		if p.Flag == "" {
			return nil, eris.New("config: platform rule without flag")
		}
	}

	return rules, nil
}
