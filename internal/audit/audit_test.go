package audit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"forum/internal/common"
	"forum/internal/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st := store.NewMemStore()
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.PutInstrument(&common.Instrument{Ticker: common.RUBTicker, Name: "Ruble", IsListed: true}); err != nil {
			return err
		}
		return tx.PutInstrument(&common.Instrument{Ticker: "TEST", Name: "Test Co", IsListed: true})
	}))
	return st
}

func TestAuditor_SweepPassesWhenBalancesMatchNetExternal(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.PutBalance("alice", common.RUBTicker, dec("1000")); err != nil {
			return err
		}
		return tx.AdjustNetExternal(common.RUBTicker, dec("1000"))
	}))

	var buf bytes.Buffer
	a := New(st, zerolog.New(&buf), time.Millisecond)
	require.NoError(t, a.sweep(context.Background()))
	require.NotContains(t, buf.String(), "invariant breach")
}

func TestAuditor_SweepPassesWithOutstandingReservations(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.PutBalance("buyer", common.RUBTicker, dec("400")); err != nil {
			return err
		}
		if err := tx.AdjustNetExternal(common.RUBTicker, dec("1000")); err != nil {
			return err
		}
		return tx.InsertOrder(&common.Order{
			ID: "o1", UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder,
			Quantity: dec("6"), Filled: decimal.Zero, Price: dec("100"), Status: common.Open,
			CreatedAt: time.Unix(0, 0), UpdatedAt: time.Unix(0, 0),
		})
	}))

	var buf bytes.Buffer
	a := New(st, zerolog.New(&buf), time.Millisecond)
	require.NoError(t, a.sweep(context.Background()))
	require.NotContains(t, buf.String(), "invariant breach")
}

func TestAuditor_SweepFlagsConservationBreach(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		// A balance with no corresponding net-external deposit: a leak.
		return tx.PutBalance("alice", common.RUBTicker, dec("500"))
	}))

	var buf bytes.Buffer
	a := New(st, zerolog.New(&buf), time.Millisecond)
	require.NoError(t, a.sweep(context.Background()))
	require.Contains(t, buf.String(), "conservation invariant breach")
}

func TestAuditor_SweepFlagsNegativeBalance(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.PutBalance("alice", common.RUBTicker, dec("-5"))
	}))

	var buf bytes.Buffer
	a := New(st, zerolog.New(&buf), time.Millisecond)
	require.NoError(t, a.sweep(context.Background()))
	require.Contains(t, buf.String(), "negative balance invariant breach")
}
