package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPricingForPrefixMatch(t *testing.T) {
	assert.Equal(t, modelPricing["claude-sonnet"], PricingFor("claude-sonnet-4-5"))
	assert.Equal(t, modelPricing["gpt-4.1-mini"], PricingFor("gpt-4.1-mini-2025-04-14"))
	assert.Equal(t, modelPricing["gpt-4.1"], PricingFor("gpt-4.1"))
	assert.Equal(t, fallbackPricing, PricingFor("some-unknown-model"))
}

func TestEstimateCost(t *testing.T) {
	// 1M input + 1M output tokens of claude-sonnet.
	cost := EstimateCost("claude-sonnet-4-5", 1_000_000, 1_000_000)
	assert.InDelta(t, 18.0, cost, 1e-9)

	assert.Zero(t, EstimateCost("claude-sonnet-4-5", 0, 0))
}

func TestBudgetRecordAndExceeded(t *testing.T) {
	b := NewBudget(0.01)
	assert.False(t, b.Exceeded())

	b.Record("claude-sonnet-4-5", Usage{InputTokens: 1000, OutputTokens: 500})
	in, out := b.Tokens()
	assert.Equal(t, int64(1000), in)
	assert.Equal(t, int64(500), out)
	assert.InDelta(t, 0.0105, b.SpentUSD(), 1e-9)
	assert.True(t, b.Exceeded())
	assert.InDelta(t, 105.0, b.UsagePercent(), 1e-6)
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudget(0)
	b.Record("claude-sonnet-4-5", Usage{InputTokens: 1_000_000})
	assert.False(t, b.Exceeded())
	assert.Negative(t, b.RemainingUSD())
}

func TestBudgetRestore(t *testing.T) {
	b := NewBudget(10)
	b.Restore(2.5, 100, 200)

	assert.InDelta(t, 2.5, b.SpentUSD(), 1e-9)
	assert.InDelta(t, 7.5, b.RemainingUSD(), 1e-9)
	in, out := b.Tokens()
	assert.Equal(t, int64(100), in)
	assert.Equal(t, int64(200), out)
}

func TestCountTokens(t *testing.T) {
	n := CountTokens("gpt-4.1", "hello world, this is a token counting test")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)

	// Unknown models fall back to cl100k_base.
	m := CountTokens("claude-sonnet-4-5", "hello world")
	assert.Greater(t, m, 0)
}
