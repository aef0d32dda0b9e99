// Package ledger implements per-user, per-ticker free balances with
// credit/debit/reserve/release under a transactional boundary. The free
// balance is the one authoritative "available" figure — resting orders
// represent the complement.
//
// Ledger reads and writes through the store.Tx boundary so it is agnostic
// to whatever backs that transaction.
package ledger

import (
	"github.com/shopspring/decimal"

	"forum/internal/common"
)

// Tx is the slice of the store transaction boundary the Ledger needs. A
// concrete store.Tx satisfies this structurally; Ledger declares its own
// narrow interface rather than importing package store, to avoid a cycle.
type Tx interface {
	GetBalance(userID, ticker string) (decimal.Decimal, error)
	PutBalance(userID, ticker string, amount decimal.Decimal) error
}

// Ledger is a thin, stateless wrapper: all state lives behind Tx. It never
// reads or writes Orders.
type Ledger struct{}

func New() *Ledger { return &Ledger{} }

// Balance returns the free balance for (user, ticker), zero if no row
// exists yet.
func (l *Ledger) Balance(tx Tx, userID, ticker string) (decimal.Decimal, error) {
	return tx.GetBalance(userID, ticker)
}

// Credit increases a free balance, creating the row if absent.
func (l *Ledger) Credit(tx Tx, userID, ticker string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return common.Errf(common.KindBadRequest, "credit amount must be positive, got %s", amount)
	}
	current, err := tx.GetBalance(userID, ticker)
	if err != nil {
		return err
	}
	return tx.PutBalance(userID, ticker, current.Add(amount))
}

// Debit decreases a free balance. Used both for true debits (admin
// withdraw) and for reservations (Reserve is an alias for Debit — the
// reservation is implicit in the resting order).
func (l *Ledger) Debit(tx Tx, userID, ticker string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return common.Errf(common.KindBadRequest, "debit amount must be positive, got %s", amount)
	}
	current, err := tx.GetBalance(userID, ticker)
	if err != nil {
		return err
	}
	if current.LessThan(amount) {
		return common.Errf(common.KindInsufficientFunds,
			"insufficient %s: have %s, need %s", ticker, current, amount)
	}
	return tx.PutBalance(userID, ticker, current.Sub(amount))
}

// Reserve is Debit under the name used at call sites that reserve
// funds/assets for a resting order.
func (l *Ledger) Reserve(tx Tx, userID, ticker string, amount decimal.Decimal) error {
	return l.Debit(tx, userID, ticker, amount)
}

// Release is Credit under the name used when a cancellation or refund
// returns a reservation to the free balance.
func (l *Ledger) Release(tx Tx, userID, ticker string, amount decimal.Decimal) error {
	return l.Credit(tx, userID, ticker, amount)
}
