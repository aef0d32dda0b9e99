package store

import (
	"time"

	"github.com/shopspring/decimal"

	"forum/internal/common"
)

// Gorm models for the six relations: users, instruments, balances, orders,
// transactions, and the per-ticker net-external totals. The bootstrapped
// RUB row is seeded data in instruments, not a distinct relation. String
// primary keys throughout, except the trade sequence number.
//
// decimal.Decimal does not implement the gorm/sql.Scanner pair itself, so
// every amount is stored as its string form and round-tripped through
// decimal.NewFromString — sqlite has no native fixed-point type.

type userRow struct {
	ID     string `gorm:"primaryKey"`
	Name   string
	Role   string
	APIKey string `gorm:"uniqueIndex"`
}

type instrumentRow struct {
	Ticker   string `gorm:"primaryKey"`
	Name     string
	IsListed bool
}

type balanceRow struct {
	UserID string `gorm:"primaryKey"`
	Ticker string `gorm:"primaryKey"`
	Amount string
}

type orderRow struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Ticker    string `gorm:"index"`
	Side      int
	Type      int
	Quantity  string
	Filled    string
	Price     string
	Status    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// netExternalRow tracks, per ticker, the cumulative net of admin deposits
// minus withdrawals — the external baseline the conservation check
// compares the sum of balances and reservations against.
type netExternalRow struct {
	Ticker string `gorm:"primaryKey"`
	Amount string
}

type tradeRow struct {
	Seq         uint64 `gorm:"primaryKey;autoIncrement"`
	Ticker      string `gorm:"index"`
	Price       string
	Quantity    string
	BuyerID     string
	SellerID    string
	BuyOrderID  string
	SellOrderID string
	Timestamp   time.Time
}

func toOrderRow(o *common.Order) orderRow {
	return orderRow{
		ID: o.ID, UserID: o.UserID, Ticker: o.Ticker,
		Side: int(o.Side), Type: int(o.Type),
		Quantity: o.Quantity.String(), Filled: o.Filled.String(), Price: o.Price.String(),
		Status: int(o.Status), CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func fromOrderRow(r orderRow) (*common.Order, error) {
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, err
	}
	filled, err := decimal.NewFromString(r.Filled)
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, err
	}
	return &common.Order{
		ID: r.ID, UserID: r.UserID, Ticker: r.Ticker,
		Side: common.Side(r.Side), Type: common.OrderType(r.Type),
		Quantity: qty, Filled: filled, Price: price,
		Status: common.OrderStatus(r.Status), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}, nil
}

func toTradeRow(t common.Trade) tradeRow {
	return tradeRow{
		Seq: t.Seq, Ticker: t.Ticker, Price: t.Price.String(), Quantity: t.Quantity.String(),
		BuyerID: t.BuyerID, SellerID: t.SellerID,
		BuyOrderID: t.BuyOrderID, SellOrderID: t.SellOrderID, Timestamp: t.Timestamp,
	}
}

func fromTradeRow(r tradeRow) (common.Trade, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return common.Trade{}, err
	}
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return common.Trade{}, err
	}
	return common.Trade{
		Seq: r.Seq, Ticker: r.Ticker, Price: price, Quantity: qty,
		BuyerID: r.BuyerID, SellerID: r.SellerID,
		BuyOrderID: r.BuyOrderID, SellOrderID: r.SellOrderID, Timestamp: r.Timestamp,
	}, nil
}
