package cardfile

import "strings"

// EstimateTokens returns a deterministic token estimate for text: each
// whitespace-separated word contributes one token per four characters,
// minimum one. The exact scale matters less than the guarantee that client
// and server produce the same number for the same input.
func EstimateTokens(text string) int {
	total := 0
	for _, word := range strings.Fields(text) {
		n := (len(word) + 3) / 4
		if n < 1 {
			n = 1
		}
		total += n
	}
	return total
}

// deriveTokens fills TokenCounts from the card's textual fields.
func deriveTokens(description string, greetings []string, lorebook []string) TokenCounts {
	tc := TokenCounts{Description: EstimateTokens(description)}
	for _, g := range greetings {
		tc.Greetings += EstimateTokens(g)
	}
	for _, l := range lorebook {
		tc.Lorebook += EstimateTokens(l)
	}
	tc.Total = tc.Description + tc.Greetings + tc.Lorebook
	return tc
}

// deriveFlags fills FeatureFlags from structural facts about the card.
// greetings excludes the primary greeting: only alternates count.
func deriveFlags(alternateGreetings, lorebookEntries, embeddedRefs int) FeatureFlags {
	return FeatureFlags{
		HasAlternateGreetings: alternateGreetings > 0,
		HasLorebook:           lorebookEntries > 0,
		HasEmbeddedImages:     embeddedRefs > 0,
		GreetingCount:         alternateGreetings,
		LorebookEntryCount:    lorebookEntries,
		EmbeddedImageCount:    embeddedRefs,
	}
}
