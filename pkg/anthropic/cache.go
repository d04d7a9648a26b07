package anthropic

// CachedSystem builds a single system block with an ephemeral cache
// breakpoint. Empty text yields no system blocks.
func CachedSystem(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}
