package llm

import (
	"strings"

	"agentline/internal/config"
)

// Pricing holds per-model rates in USD per million tokens.
type Pricing map[string]config.ModelPricing

// Cost prices usage for model. Unknown models fall back to the longest
// configured key that prefixes the model name, then to zero.
func (p Pricing) Cost(model string, u Usage) float64 {
	rate, ok := p[model]
	if !ok {
		best := ""
		for k := range p {
			if strings.HasPrefix(model, k) && len(k) > len(best) {
				best = k
			}
		}
		if best == "" {
			return 0
		}
		rate = p[best]
	}
	const perMillion = 1_000_000.0
	return (float64(u.InputTokens)*rate.Input +
		float64(u.OutputTokens)*rate.Output +
		float64(u.CacheReadTokens)*rate.CacheRead +
		float64(u.CacheWriteTokens)*rate.CacheWrite) / perMillion
}
