package ai

import (
	"fmt"

	"github.com/whale-watch/pkg/whale"
)

// BuildPrompt renders the analysis request. Deterministic: the same whale,
// classification, patterns, and price always produce the same string, so
// prompt drift shows up in tests instead of in production transcripts.
func BuildPrompt(w whale.WhaleTransaction, c whale.Classification, p whale.TransactionPatterns, priceUSD float64) string {
	return fmt.Sprintf(`You are a blockchain analyst. Assess this whale movement and its likely market impact.

TRANSACTION: %s
Amount: %.8f BTC ($%.2f at $%.2f/BTC)
From: %s
To: %s
Classification: %s (%s)
Exchange flow: %s
Accumulation pattern: %t
Distribution pattern: %t
Mixing pattern: %t

Return JSON:
{
  "summary": "one-paragraph plain-English assessment",
  "market_impact": "bullish|bearish|neutral",
  "impact_confidence": 0.0-1.0,
  "likely_intent": "sell|accumulate|internal_transfer|obfuscation|unknown",
  "risk_flags": ["flag1","flag2"],
  "watch_addresses": ["address1"]
}
Return ONLY valid JSON.`,
		w.Hash,
		w.Amount, w.AmountUSD, priceUSD,
		w.FromAddress,
		w.ToAddress,
		c.Type, c.Description,
		p.ExchangeFlow,
		p.IsAccumulation,
		p.IsDistribution,
		p.IsMixing,
	)
}
