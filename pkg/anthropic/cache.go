package anthropic

// BuildCachedSystemBlocks returns the system prompt as a single block with
// a cache breakpoint. Every turn of a conversation resends the same system
// prompt, so it is cached for an hour.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "1h"},
		},
	}
}
