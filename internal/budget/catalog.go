package budget

import "fmt"

// PerMillion holds per-million-token prices in USD for one model.
type PerMillion struct {
	Input  float64
	Output float64
}

// CacheMultiplier scales the input price for cache-creation and cache-read
// tokens, both provider-specific.
type CacheMultiplier struct {
	Create float64
	Read   float64
}

// Catalog is the bundled per-million-token price table plus per-provider
// cache multipliers consulted by EstimateCost.
type Catalog struct {
	Prices      map[string]map[string]PerMillion // provider -> model -> price
	Multipliers map[string]CacheMultiplier        // provider -> multiplier
}

// DefaultCatalog holds starter provider pricing and cache multipliers
// (create/read factors applied to the per-million input price: Anthropic
// 1.25/0.10; OpenAI 0/0.5; Google 0/0.25). Prices are illustrative public list prices, not live figures;
// operators are expected to override this catalog from configuration.
func DefaultCatalog() Catalog {
	return Catalog{
		Prices: map[string]map[string]PerMillion{
			"anthropic": {
				"claude-opus-4":   {Input: 15, Output: 75},
				"claude-sonnet-4": {Input: 3, Output: 15},
				"claude-haiku-4":  {Input: 0.8, Output: 4},
			},
			"openai": {
				"gpt-4o":      {Input: 2.5, Output: 10},
				"gpt-4o-mini": {Input: 0.15, Output: 0.6},
			},
			"bedrock": {
				"amazon.nova-pro-v1:0": {Input: 0.8, Output: 3.2},
			},
		},
		Multipliers: map[string]CacheMultiplier{
			"anthropic": {Create: 1.25, Read: 0.10},
			"openai":    {Create: 0, Read: 0.5},
			"google":    {Create: 0, Read: 0.25},
			"bedrock":   {Create: 1.25, Read: 0.10},
		},
	}
}

// EstimateCost prices one usage record: per-million-token price for
// input+output, plus cache-creation tokens at input*multiplier.create and
// cache-read tokens at input*multiplier.read.
func (c Catalog) EstimateCost(provider, model string, input, output, cacheCreate, cacheRead int) (float64, error) {
	byModel, ok := c.Prices[provider]
	if !ok {
		return 0, fmt.Errorf("budget: no price catalog entry for provider %q", provider)
	}
	price, ok := byModel[model]
	if !ok {
		return 0, fmt.Errorf("budget: no price catalog entry for %s/%s", provider, model)
	}
	mult := c.Multipliers[provider]

	cost := float64(input)/1_000_000*price.Input + float64(output)/1_000_000*price.Output
	cost += float64(cacheCreate) / 1_000_000 * price.Input * mult.Create
	cost += float64(cacheRead) / 1_000_000 * price.Input * mult.Read
	return cost, nil
}
