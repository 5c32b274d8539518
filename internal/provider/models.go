package provider

import (
	"strings"

	"github.com/nextlevelbuilder/gocode/internal/tokens"
)

// Builtin price sheets, dollars per million tokens. Matched by model-id
// prefix so dated releases inherit their family's pricing.
var priceTable = []struct {
	prefix string
	cost   tokens.Cost
}{
	{"claude-opus-4", tokens.Cost{Input: 15, Output: 75, CacheRead: 1.5, CacheWrite: 18.75}},
	{"claude-sonnet-4", tokens.Cost{
		Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75,
		Over200K: &tokens.Cost{Input: 6, Output: 22.5, CacheRead: 0.6, CacheWrite: 7.5},
	}},
	{"claude-haiku-4", tokens.Cost{Input: 1, Output: 5, CacheRead: 0.1, CacheWrite: 1.25}},
	{"claude-3-5-haiku", tokens.Cost{Input: 0.8, Output: 4, CacheRead: 0.08, CacheWrite: 1}},
	{"gpt-4o-mini", tokens.Cost{Input: 0.15, Output: 0.6, CacheRead: 0.075}},
	{"gpt-4o", tokens.Cost{Input: 2.5, Output: 10, CacheRead: 1.25}},
	{"gpt-4.1-mini", tokens.Cost{Input: 0.4, Output: 1.6, CacheRead: 0.1}},
	{"gpt-4.1", tokens.Cost{Input: 2, Output: 8, CacheRead: 0.5}},
	{"o3", tokens.Cost{Input: 2, Output: 8, CacheRead: 0.5}},
}

// lookupCost finds the price sheet for a model id; unknown models are
// priced at zero rather than guessed.
func lookupCost(modelID string) tokens.Cost {
	for _, entry := range priceTable {
		if strings.HasPrefix(modelID, entry.prefix) {
			return entry.cost
		}
	}
	return tokens.Cost{}
}
