// Package audit runs a background invariant checker over the exchange's
// conservation and non-negativity properties: every free balance must be
// non-negative, and for every ticker the sum of user balances plus the
// quantity reserved by resting orders must equal the cumulative net of
// admin deposits minus withdrawals for that ticker. It does not enforce
// anything — a breach is a programming-bug signal, logged loudly so an
// operator notices.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	tomb "gopkg.in/tomb.v2"

	"forum/internal/common"
	"forum/internal/store"
)

// Auditor periodically scans every instrument in the catalogue (listed or
// not) for non-negative balances and per-ticker conservation.
type Auditor struct {
	st       store.Store
	log      zerolog.Logger
	interval time.Duration
}

func New(st store.Store, log zerolog.Logger, interval time.Duration) *Auditor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Auditor{st: st, log: log.With().Str("component", "audit").Logger(), interval: interval}
}

// Run attaches the auditor's loop to t, stopping when t.Dying() fires.
func (a *Auditor) Run(t *tomb.Tomb) {
	t.Go(func() error {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.Dying():
				return nil
			case <-ticker.C:
				if err := a.sweep(t.Context(nil)); err != nil {
					a.log.Error().Err(err).Msg("invariant sweep failed")
				}
			}
		}
	})
}

// sweep checks non-negativity of every known balance, then conservation:
// for each ticker, Σ balances + Σ reserved-by-resting-orders must equal
// the cumulative net of admin deposits minus withdrawals recorded for
// that ticker. RUB reservations come from every BUY+LIMIT order across
// every ticker (the cash leg), while an asset's own reservations come
// only from SELL orders resting on that ticker.
func (a *Auditor) sweep(ctx context.Context) error {
	return a.st.WithinTx(ctx, func(tx store.Tx) error {
		instruments, err := tx.ListInstruments()
		if err != nil {
			return err
		}

		reservedRUB := decimal.Zero
		reservedAsset := map[string]decimal.Decimal{}
		for _, inst := range instruments {
			resting, err := tx.RestingOrders(inst.Ticker)
			if err != nil {
				return err
			}
			for _, o := range resting {
				remaining := o.Remaining()
				switch {
				case o.Side == common.Sell:
					reservedAsset[inst.Ticker] = reservedAsset[inst.Ticker].Add(remaining)
				case o.Side == common.Buy && o.Type == common.LimitOrder:
					reservedRUB = reservedRUB.Add(remaining.Mul(o.Price))
				}
			}
		}

		for _, inst := range instruments {
			balances, err := tx.AllBalances(inst.Ticker)
			if err != nil {
				return err
			}
			total := decimal.Zero
			for _, b := range balances {
				if b.Amount.LessThan(decimal.Zero) {
					a.log.Error().
						Str("user", b.UserID).
						Str("ticker", b.Ticker).
						Str("amount", b.Amount.String()).
						Msg("negative balance invariant breach")
				}
				total = total.Add(b.Amount)
			}
			reserved := reservedAsset[inst.Ticker]
			if inst.Ticker == common.RUBTicker {
				reserved = reserved.Add(reservedRUB)
			}
			total = total.Add(reserved)

			baseline, err := tx.NetExternal(inst.Ticker)
			if err != nil {
				return err
			}
			if !total.Equal(baseline) {
				a.log.Error().
					Str("ticker", inst.Ticker).
					Str("balances_plus_reserved", total.String()).
					Str("net_external", baseline.String()).
					Msg("conservation invariant breach")
			}
		}
		return nil
	})
}
