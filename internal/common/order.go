package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a single tagged variant: one struct, a Type discriminant, and
// an optional Price instead of separate LimitOrder/MarketOrder bodies.
type Order struct {
	ID        string
	UserID    string
	Ticker    string
	Side      Side
	Type      OrderType
	Quantity  decimal.Decimal // total requested volume, fixed at creation
	Filled    decimal.Decimal // cumulative filled volume
	Price     decimal.Decimal // zero value iff Type == MarketOrder
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining is the quantity still open to match.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// HasPrice reports whether the order carries a limit price.
func (o *Order) HasPrice() bool {
	return o.Type == LimitOrder
}

func (o Order) String() string {
	return fmt.Sprintf(
		"Order{id=%s user=%s ticker=%s side=%s type=%s qty=%s filled=%s price=%s status=%s}",
		o.ID, o.UserID, o.Ticker, o.Side, o.Type, o.Quantity, o.Filled, o.Price, o.Status,
	)
}

// Instrument is a listed tradable asset (or RUB, the settlement currency).
type Instrument struct {
	Ticker   string
	Name     string
	IsListed bool
}

// User is an exchange participant.
type User struct {
	ID     string
	Name   string
	Role   Role
	APIKey string
}

// Balance is a (user, ticker) free-balance row. Reservations are not
// stored here — they are implicit in resting orders.
type Balance struct {
	UserID string
	Ticker string
	Amount decimal.Decimal
}
