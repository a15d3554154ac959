package compose

import "fmt"

// ProviderPricing is the per-million-token rate for one model, loaded from
// the TOML configuration file.
type ProviderPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PricingTable maps a model name to its pricing. Lookups fall back to a
// zero-cost rate for unknown models rather than failing the request, since
// cost reporting is informational (verbose mode only).
type PricingTable map[string]ProviderPricing

// Cost computes (input_tokens/1e6)*input_per_million +
// (output_tokens/1e6)*output_per_million for model, carried over from the
// source's calculate_cost.
func (t PricingTable) Cost(model string, inputTokens, outputTokens int) float64 {
	pricing := t[model]
	return (float64(inputTokens)/1_000_000.0)*pricing.InputPerMillion +
		(float64(outputTokens)/1_000_000.0)*pricing.OutputPerMillion
}

// FormatCost renders a cost as a dollar amount to four decimal places, per
// the source's format_cost (extended from its three decimals, matching the
// "formatted to four decimal places" instruction this repository follows).
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}
