package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of one execution between a buyer and a
// seller. Seq is a monotonically increasing identity assigned by the
// TradeLog at append time.
type Trade struct {
	Seq         uint64
	Ticker      string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	BuyerID     string
	SellerID    string
	BuyOrderID  string
	SellOrderID string
	Timestamp   time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{seq=%d ticker=%s price=%s qty=%s buyer=%s seller=%s buy_order=%s sell_order=%s}",
		t.Seq, t.Ticker, t.Price, t.Quantity, t.BuyerID, t.SellerID, t.BuyOrderID, t.SellOrderID,
	)
}
