// Package tokens normalizes provider usage metadata into token counts and
// dollar cost.
package tokens

import (
	"math"

	"github.com/nextlevelbuilder/gocode/internal/message"
)

// Usage is raw provider-reported usage. Fields the provider did not
// report stay zero.
type Usage struct {
	Input      float64
	Output     float64
	Reasoning  float64
	CacheRead  float64
	CacheWrite float64
	// Total is the provider's own total when reported, else zero.
	Total float64
}

// Cost is the per-million-token price sheet for one model.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	// Over200K is an optional price tier applied when the effective input
	// exceeds 200K tokens.
	Over200K *Cost `json:"experimentalOver200K,omitempty"`
}

const over200KThreshold = 200_000

// Calculate normalizes usage and prices it.
//
// excludesCachedInput marks provider families whose input count already
// excludes cached tokens (Anthropic, Bedrock); for everyone else cached
// tokens are subtracted from input. Reasoning tokens are priced at the
// output rate. Non-finite or negative inputs are coerced to zero.
func Calculate(raw Usage, cost Cost, excludesCachedInput bool) (message.Tokens, float64) {
	input := sanitize(raw.Input)
	output := sanitize(raw.Output)
	reasoning := sanitize(raw.Reasoning)
	cacheRead := sanitize(raw.CacheRead)
	cacheWrite := sanitize(raw.CacheWrite)

	adjusted := input
	if !excludesCachedInput {
		adjusted = input - cacheRead - cacheWrite
		if adjusted < 0 {
			adjusted = 0
		}
	}

	total := sanitize(raw.Total)
	if total == 0 {
		total = adjusted + output + reasoning + cacheRead + cacheWrite
	}

	price := cost
	if cost.Over200K != nil && adjusted+cacheRead > over200KThreshold {
		price = *cost.Over200K
	}

	dollars := (adjusted*price.Input +
		output*price.Output +
		reasoning*price.Output +
		cacheRead*price.CacheRead +
		cacheWrite*price.CacheWrite) / 1_000_000

	return message.Tokens{
		Input:     int64(adjusted),
		Output:    int64(output),
		Reasoning: int64(reasoning),
		Cache: message.CacheTokens{
			Read:  int64(cacheRead),
			Write: int64(cacheWrite),
		},
		Total: int64(total),
	}, dollars
}

// Add accumulates step usage into a running message total.
func Add(sum message.Tokens, step message.Tokens) message.Tokens {
	sum.Input += step.Input
	sum.Output += step.Output
	sum.Reasoning += step.Reasoning
	sum.Cache.Read += step.Cache.Read
	sum.Cache.Write += step.Cache.Write
	sum.Total += step.Total
	return sum
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
