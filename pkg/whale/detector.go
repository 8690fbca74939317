package whale

import (
	"time"

	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
)

// WhaleTransaction is a transaction that cleared the detection threshold.
// Never mutated after construction.
type WhaleTransaction struct {
	Hash        string    `json:"hash"`
	Amount      float64   `json:"amount"`     // BTC
	AmountUSD   float64   `json:"amount_usd"` // Amount × price at detection time
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Time        time.Time `json:"time"`
	BlockHeight int64     `json:"block_height"`
	IsWhale     bool      `json:"is_whale"`
}

// Classification buckets a whale movement by which side touches a known
// exchange.
type Classification struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// DetectWhales keeps transactions whose summed output value reaches
// thresholdBTC (inclusive). USD is a point estimate at the supplied price,
// not a historical quote.
func DetectWhales(txs []gateway.Transaction, thresholdBTC, priceUSD float64) []WhaleTransaction {
	var whales []WhaleTransaction
	for _, tx := range txs {
		amount := tx.OutputTotal().ToBTC()
		if amount < thresholdBTC {
			continue
		}
		whales = append(whales, WhaleTransaction{
			Hash:        tx.Hash,
			Amount:      amount,
			AmountUSD:   amount * priceUSD,
			FromAddress: tx.FromAddress(),
			ToAddress:   tx.ToAddress(),
			Time:        tx.Time,
			BlockHeight: tx.BlockHeight,
			IsWhale:     true,
		})
	}
	return whales
}

// Classify labels the movement by its exchange endpoints. Only the
// "exchange" entity category matters here; mixers and services read as
// ordinary wallets.
func Classify(w WhaleTransaction, entities config.EntitySet) Classification {
	fromExch := entities.IsExchange(w.FromAddress)
	toExch := entities.IsExchange(w.ToAddress)

	switch {
	case !fromExch && toExch:
		return Classification{Type: "exchange_deposit", Description: "potential sell pressure"}
	case fromExch && !toExch:
		return Classification{Type: "exchange_withdrawal", Description: "potential accumulation"}
	case fromExch && toExch:
		return Classification{Type: "whale_to_whale", Description: "exchange to exchange transfer"}
	default:
		return Classification{Type: "unknown", Description: "whale to whale transfer or OTC deal"}
	}
}
