package whale

import (
	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
)

// Thresholds tune the pattern heuristics. Change them with data, not taste —
// classification outputs feed the archive and the model prompt.
type Thresholds struct {
	AccumulationRatio float64 // dest received must exceed sent × this
	DistributionRatio float64 // source sent must exceed received × this
	MixingMinTxCount  int64   // lifetime activity floor for mixing
	MixingMinRecent   int     // recent-window floor for mixing
	MixingMaxBTC      float64 // every recent amount must stay below this
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AccumulationRatio: 1.5,
		DistributionRatio: 1.5,
		MixingMinTxCount:  100,
		MixingMinRecent:   5,
		MixingMaxBTC:      1.0,
	}
}

// TransactionPatterns summarizes wallet behavior around one whale movement.
type TransactionPatterns struct {
	IsAccumulation bool   `json:"is_accumulation"`
	IsDistribution bool   `json:"is_distribution"`
	IsMixing       bool   `json:"is_mixing"`
	ExchangeFlow   string `json:"exchange_flow"` // "deposit" | "withdrawal" | "none"
}

// AnalyzePatterns derives behavioral flags from the source and destination
// profiles. Pure function of its inputs; degraded zero profiles yield
// all-false flags.
func AnalyzePatterns(src, dst gateway.AddressProfile, th Thresholds, entities config.EntitySet) TransactionPatterns {
	p := TransactionPatterns{ExchangeFlow: "none"}

	if float64(dst.TotalReceived) > float64(dst.TotalSent)*th.AccumulationRatio {
		p.IsAccumulation = true
	}
	if float64(src.TotalSent) > float64(src.TotalReceived)*th.DistributionRatio {
		p.IsDistribution = true
	}

	// Mixing: a busy source whose recent activity is all small change.
	// Weak and easily gamed, kept for continuity with historical labels.
	if src.TxCount > th.MixingMinTxCount && len(src.RecentTransactions) > th.MixingMinRecent {
		small := true
		for _, rt := range src.RecentTransactions {
			if rt.AmountBTC >= th.MixingMaxBTC {
				small = false
				break
			}
		}
		p.IsMixing = small
	}

	// Deposit check wins: when both endpoints are exchanges the movement
	// still reads as a deposit.
	switch {
	case entities.IsExchange(dst.Address):
		p.ExchangeFlow = "deposit"
	case entities.IsExchange(src.Address):
		p.ExchangeFlow = "withdrawal"
	}

	return p
}
