// Package store is the transactional boundary the matching core (ledger,
// book, tradelog, matcher) talks through, never to a concrete database.
// Two implementations satisfy it: an in-memory store (default, and what
// every test uses) and a gorm+sqlite store (wired up by cmd/server when
// given a DSN) — persistence choice is a swap-in decision, not a
// compile-time fork.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"forum/internal/common"
)

// Tx is everything the Ledger, Book-backing order repository, and TradeLog
// need from one transactional scope. It satisfies ledger.Tx and
// tradelog.Tx structurally.
type Tx interface {
	// Ledger
	GetBalance(userID, ticker string) (decimal.Decimal, error)
	PutBalance(userID, ticker string, amount decimal.Decimal) error
	AllBalances(ticker string) ([]common.Balance, error)

	// NetExternal is the cumulative net of admin deposits minus
	// withdrawals recorded against ticker; AdjustNetExternal adds delta
	// to it (negative for a withdrawal).
	NetExternal(ticker string) (decimal.Decimal, error)
	AdjustNetExternal(ticker string, delta decimal.Decimal) error

	// Orders
	InsertOrder(o *common.Order) error
	SaveOrder(o *common.Order) error
	GetOrder(id string) (*common.Order, error)
	OrdersByUser(userID string) ([]*common.Order, error)
	RestingOrders(ticker string) ([]*common.Order, error)

	// TradeLog
	NextTradeSeq() (uint64, error)
	AppendTrade(t common.Trade) error
	TradeHistory(ticker string, limit int) ([]common.Trade, error)

	// Catalogue / users, needed by the matcher's pre-checks and by the
	// CommandAPI's admin endpoints.
	GetInstrument(ticker string) (*common.Instrument, error)
	PutInstrument(i *common.Instrument) error
	DeleteInstrument(ticker string) error
	ListInstruments() ([]common.Instrument, error)

	GetUser(id string) (*common.User, error)
	GetUserByAPIKey(apiKey string) (*common.User, error)
	PutUser(u *common.User) error
	DeleteUser(id string) error
}

// Store opens transactional scopes. WithinTx must roll back every effect
// if fn returns an error, and commit atomically otherwise: one transaction
// covers a whole Place or Cancel call, not one transaction per deal.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Clock is a time-source function type. Matcher.New takes its time source
// as a plain func() time.Time (nil selects time.Now), not as this type.
type Clock func() time.Time
