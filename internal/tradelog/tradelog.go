// Package tradelog implements an append-only, immutable history of
// executed trades, indexed by instrument and time, with no deletions or
// mutations once a trade is written.
package tradelog

import (
	"time"

	"github.com/shopspring/decimal"

	"forum/internal/common"
)

// Tx is the slice of the store transaction boundary TradeLog needs.
type Tx interface {
	NextTradeSeq() (uint64, error)
	AppendTrade(t common.Trade) error
	TradeHistory(ticker string, limit int) ([]common.Trade, error)
}

type TradeLog struct{}

func New() *TradeLog { return &TradeLog{} }

// Append assigns the next monotonic sequence number and durably inserts
// the trade. Timestamp is set by the caller (the matcher), not here, so
// that every effect of one deal shares a single instant.
func (tl *TradeLog) Append(tx Tx, ticker string, price, quantity decimal.Decimal, buyerID, sellerID, buyOrderID, sellOrderID string, at time.Time) (common.Trade, error) {
	seq, err := tx.NextTradeSeq()
	if err != nil {
		return common.Trade{}, err
	}
	t := common.Trade{
		Seq:         seq,
		Ticker:      ticker,
		Price:       price,
		Quantity:    quantity,
		BuyerID:     buyerID,
		SellerID:    sellerID,
		BuyOrderID:  buyOrderID,
		SellOrderID: sellOrderID,
		Timestamp:   at,
	}
	if err := tx.AppendTrade(t); err != nil {
		return common.Trade{}, err
	}
	return t, nil
}

// History returns the newest-first trades for ticker, up to limit.
func (tl *TradeLog) History(tx Tx, ticker string, limit int) ([]common.Trade, error) {
	return tx.TradeHistory(ticker, limit)
}
