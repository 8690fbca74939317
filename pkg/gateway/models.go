package gateway

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/whale-watch/pkg/config"
)

// TxSlot is one endpoint of a transfer: an address and its satoshi value.
type TxSlot struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

// Transaction is one ledger transaction, confirmed or not. Immutable once
// decoded.
type Transaction struct {
	Hash        string    `json:"hash"`
	Time        time.Time `json:"time"`
	BlockHeight int64     `json:"block_height"` // 0 = unconfirmed
	Inputs      []TxSlot  `json:"inputs"`
	Outputs     []TxSlot  `json:"outputs"`
}

// OutputTotal sums every output slot in satoshis.
func (t Transaction) OutputTotal() btcutil.Amount {
	var total btcutil.Amount
	for _, o := range t.Outputs {
		total += btcutil.Amount(o.Value)
	}
	return total
}

// FromAddress is the transaction's primary source: the first input address,
// or "coinbase" for block rewards.
func (t Transaction) FromAddress() string {
	if len(t.Inputs) == 0 {
		return "coinbase"
	}
	return t.Inputs[0].Address
}

// ToAddress is the transaction's primary destination: the address of the
// single largest output.
func (t Transaction) ToAddress() string {
	var best TxSlot
	for _, o := range t.Outputs {
		if o.Value > best.Value || best.Address == "" {
			best = o
		}
	}
	return best.Address
}

type BlockHeader struct {
	Hash   string    `json:"hash"`
	Height int64     `json:"height"`
	Time   time.Time `json:"time"`
}

// RecentTx is one entry in an address's bounded recent-activity window.
type RecentTx struct {
	Hash      string    `json:"hash"`
	AmountBTC float64   `json:"amount_btc"` // transaction output total
	Time      time.Time `json:"time"`
}

// AddressProfile is the behavioral summary the pattern analyzer runs on.
// The zero value is the degraded "know nothing" profile.
type AddressProfile struct {
	Address            string          `json:"address"`
	TotalReceived      btcutil.Amount  `json:"total_received"`
	TotalSent          btcutil.Amount  `json:"total_sent"`
	Balance            btcutil.Amount  `json:"balance"`
	TxCount            int64           `json:"tx_count"`
	RecentTransactions []RecentTx      `json:"recent_transactions"`
	Volume30d          float64         `json:"volume_30d"` // BTC, bounded by the fetched window
	KnownEntity        *config.Entity  `json:"known_entity,omitempty"`
	FetchedAt          time.Time       `json:"fetched_at"`
}

// FeedMessage is one push from the live transaction websocket. Only
// "utx" messages carry a transaction.
type FeedMessage struct {
	Op string `json:"op"`
	X  wireTx `json:"x"`
}

func (f FeedMessage) Transaction() Transaction {
	return f.X.toTransaction()
}

// --- wire decoding (ledger provider shapes) ---

type wireTx struct {
	Hash        string `json:"hash"`
	Time        int64  `json:"time"`
	BlockHeight int64  `json:"block_height"`
	Inputs      []struct {
		PrevOut struct {
			Addr  string `json:"addr"`
			Value int64  `json:"value"`
		} `json:"prev_out"`
	} `json:"inputs"`
	Out []struct {
		Addr  string `json:"addr"`
		Value int64  `json:"value"`
	} `json:"out"`
}

func (w wireTx) toTransaction() Transaction {
	t := Transaction{
		Hash:        w.Hash,
		Time:        time.Unix(w.Time, 0).UTC(),
		BlockHeight: w.BlockHeight,
	}
	for _, in := range w.Inputs {
		if in.PrevOut.Addr == "" {
			continue // coinbase or non-standard input
		}
		t.Inputs = append(t.Inputs, TxSlot{Address: in.PrevOut.Addr, Value: in.PrevOut.Value})
	}
	for _, out := range w.Out {
		if out.Addr == "" {
			continue // OP_RETURN and friends
		}
		t.Outputs = append(t.Outputs, TxSlot{Address: out.Addr, Value: out.Value})
	}
	return t
}

type wireAddr struct {
	Address       string   `json:"address"`
	NTx           int64    `json:"n_tx"`
	TotalReceived int64    `json:"total_received"`
	TotalSent     int64    `json:"total_sent"`
	FinalBalance  int64    `json:"final_balance"`
	Txs           []wireTx `json:"txs"`
}
