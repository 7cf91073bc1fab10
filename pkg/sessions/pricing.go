// Package sessions aggregates agent session usage into per-date token and
// cost statistics, priced by longest-prefix model matching.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
)

// Rates holds USD-per-million-token prices for one model family.
type Rates struct {
	Input        float64 `json:"input"`
	Output       float64 `json:"output"`
	CacheRead    float64 `json:"cache_read"`
	CacheWrite5m float64 `json:"cache_write_5m"`
	CacheWrite1h float64 `json:"cache_write_1h"`
}

// Pricing is the model pricing table.
type Pricing struct {
	Models        map[string]Rates `json:"models"`
	FallbackModel string           `json:"fallback_model"`
}

// defaultFallbackRates applies when the configured fallback model is missing
// from the table too.
var defaultFallbackRates = Rates{
	Input:        3.0,
	Output:       15.0,
	CacheRead:    0.30,
	CacheWrite5m: 3.75,
	CacheWrite1h: 6.0,
}

// LoadPricing reads the pricing table from a JSON file.
func LoadPricing(path string) (Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pricing{}, fmt.Errorf("failed to read pricing file: %w", err)
	}
	var p Pricing
	if err := json.Unmarshal(data, &p); err != nil {
		return Pricing{}, fmt.Errorf("failed to parse pricing file %s: %w", path, err)
	}
	return p, nil
}

// Match finds rates by longest-prefix match against the model name:
// "claude-sonnet-4-5-20250929" matches the "claude-sonnet-4-5" entry over
// "claude-sonnet-4". Unmatched models fall back to the configured fallback
// model's rates.
func (p Pricing) Match(model string) Rates {
	bestLen := -1
	var best Rates
	for key, rates := range p.Models {
		if len(key) > bestLen && len(model) >= len(key) && model[:len(key)] == key {
			best = rates
			bestLen = len(key)
		}
	}
	if bestLen >= 0 {
		return best
	}
	if fallback, ok := p.Models[p.FallbackModel]; ok {
		return fallback
	}
	return defaultFallbackRates
}
