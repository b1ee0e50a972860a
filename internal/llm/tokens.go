package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/eonseed/perspt/internal/logger"
)

// Pricing is the per-million-token cost of a model in USD
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Model pricing by prefix; longest prefix wins.
var modelPricing = map[string]Pricing{
	"claude-opus":   {15.0, 75.0},
	"claude-sonnet": {3.0, 15.0},
	"claude-haiku":  {1.0, 5.0},
	"gpt-4.1-mini":  {0.4, 1.6},
	"gpt-4.1-nano":  {0.1, 0.4},
	"gpt-4.1":       {2.0, 8.0},
	"o3":            {2.0, 8.0},
}

var fallbackPricing = Pricing{3.0, 15.0}

// PricingFor returns pricing for a model, falling back to a conservative
// default for unknown models
func PricingFor(model string) Pricing {
	m := strings.ToLower(strings.TrimSpace(model))
	best := ""
	for prefix := range modelPricing {
		if strings.HasPrefix(m, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return fallbackPricing
	}
	return modelPricing[best]
}

// EstimateCost prices a token count against a model
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	p := PricingFor(model)
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

var (
	encoderCache = make(map[string]*tiktoken.Tiktoken)
	encoderMu    sync.Mutex
)

// CountTokens estimates the token count of text for a model. Anthropic
// models have no public tokenizer; cl100k_base is close enough for
// budgeting.
func CountTokens(model, text string) int {
	encoderMu.Lock()
	enc, ok := encoderCache[model]
	if !ok {
		var err error
		enc, err = tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				encoderMu.Unlock()
				logger.Warn("llm: no tokenizer available, using byte estimate")
				return len(text) / 4
			}
		}
		encoderCache[model] = enc
	}
	encoderMu.Unlock()

	return len(enc.Encode(text, nil, nil))
}

// Budget tracks cumulative token usage and spend against a ceiling
type Budget struct {
	mu           sync.Mutex
	maxCostUSD   float64
	spentUSD     float64
	inputTokens  int64
	outputTokens int64
}

// NewBudget creates a budget with the given spend ceiling. A zero
// ceiling means unlimited.
func NewBudget(maxCostUSD float64) *Budget {
	return &Budget{maxCostUSD: maxCostUSD}
}

// Record accumulates the usage of one completed call
func (b *Budget) Record(model string, usage Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inputTokens += int64(usage.InputTokens)
	b.outputTokens += int64(usage.OutputTokens)
	b.spentUSD += EstimateCost(model, usage.InputTokens, usage.OutputTokens)
}

// SpentUSD returns the accumulated spend
func (b *Budget) SpentUSD() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spentUSD
}

// Tokens returns cumulative input and output token counts
func (b *Budget) Tokens() (int64, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputTokens, b.outputTokens
}

// RemainingUSD returns how much budget is left; unlimited budgets report
// a negative value
func (b *Budget) RemainingUSD() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxCostUSD <= 0 {
		return -1
	}
	return b.maxCostUSD - b.spentUSD
}

// Exceeded reports whether spend has reached the ceiling
func (b *Budget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxCostUSD > 0 && b.spentUSD >= b.maxCostUSD
}

// UsagePercent reports spend as a percentage of the ceiling
func (b *Budget) UsagePercent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxCostUSD <= 0 {
		return 0
	}
	return b.spentUSD / b.maxCostUSD * 100
}

// Restore seeds the budget from persisted session state
func (b *Budget) Restore(spentUSD float64, inputTokens, outputTokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spentUSD = spentUSD
	b.inputTokens = inputTokens
	b.outputTokens = outputTokens
}
