// Package cost tracks per-request spend against a model price table and
// enforces soft budget thresholds.
package cost

// Price holds USD rates per 1k tokens for one model.
type Price struct {
	InputPer1k  float64 `json:"inputPer1kTokens"`
	OutputPer1k float64 `json:"outputPer1kTokens"`
}

// defaultPrices seeds the price table with published list prices.
// Unknown models cost zero; local engines are free by construction.
var defaultPrices = map[string]Price{
	"gpt-4o":                  {InputPer1k: 0.0025, OutputPer1k: 0.01},
	"gpt-4o-mini":             {InputPer1k: 0.00015, OutputPer1k: 0.0006},
	"gpt-4.1":                 {InputPer1k: 0.002, OutputPer1k: 0.008},
	"gpt-4.1-mini":            {InputPer1k: 0.0004, OutputPer1k: 0.0016},
	"gpt-5":                   {InputPer1k: 0.00125, OutputPer1k: 0.01},
	"o3":                      {InputPer1k: 0.002, OutputPer1k: 0.008},
	"o4-mini":                 {InputPer1k: 0.0011, OutputPer1k: 0.0044},
	"claude-opus-4-1":         {InputPer1k: 0.015, OutputPer1k: 0.075},
	"claude-sonnet-4-0":       {InputPer1k: 0.003, OutputPer1k: 0.015},
	"claude-3-5-haiku-latest": {InputPer1k: 0.0008, OutputPer1k: 0.004},
	"gemini-2.5-pro":          {InputPer1k: 0.00125, OutputPer1k: 0.01},
	"gemini-2.0-flash":        {InputPer1k: 0.0001, OutputPer1k: 0.0004},
	"command-r-plus":          {InputPer1k: 0.0025, OutputPer1k: 0.01},
	"command-r":               {InputPer1k: 0.00015, OutputPer1k: 0.0006},
	"deepseek-chat":           {InputPer1k: 0.00027, OutputPer1k: 0.0011},
	"deepseek-reasoner":       {InputPer1k: 0.00055, OutputPer1k: 0.00219},
	"llama-3.3-70b":           {InputPer1k: 0.00059, OutputPer1k: 0.00079},
	"mistral-large-latest":    {InputPer1k: 0.002, OutputPer1k: 0.006},
}

// PriceFor returns the price for a model, or a zero price when unknown.
func (t *Tracker) PriceFor(model string) Price {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prices[model]
}

// SetPrice installs or replaces the price for a model.
func (t *Tracker) SetPrice(model string, p Price) {
	t.mu.Lock()
	t.prices[model] = p
	t.mu.Unlock()
}
