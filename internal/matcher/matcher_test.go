package matcher

import (
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

func newTestMatcher(t *testing.T) (*Matcher, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.PutInstrument(&common.Instrument{Ticker: common.RUBTicker, Name: "Ruble", IsListed: true}); err != nil {
			return err
		}
		return tx.PutInstrument(&common.Instrument{Ticker: "TEST", Name: "Test Co", IsListed: true})
	}))
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(st, zerolog.Nop(), func() time.Time { return clock })
	return m, st
}

func fund(t *testing.T, st store.Store, userID, ticker string, amount decimal.Decimal) {
	t.Helper()
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.PutBalance(userID, ticker, amount)
	}))
}

func balance(t *testing.T, st store.Store, userID, ticker string) decimal.Decimal {
	t.Helper()
	var out decimal.Decimal
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		v, err := tx.GetBalance(userID, ticker)
		out = v
		return err
	}))
	return out
}

// S1: a resting LIMIT sell is fully matched by an incoming LIMIT buy at the
// same price; both orders fill, one trade is recorded at the maker's price.
func TestMatcher_LimitBuyMatchesRestingLimitSell(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "seller", "TEST", dec("10"))
	fund(t, st, "buyer", common.RUBTicker, dec("1000"))

	sell, err := m.Place(ctx, PlaceRequest{UserID: "seller", Ticker: "TEST", Side: common.Sell, Type: common.LimitOrder, Qty: dec("10"), Price: dec("100")})
	require.NoError(t, err)
	require.Equal(t, common.Open, sell.Status)

	buy, err := m.Place(ctx, PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("10"), Price: dec("100")})
	require.NoError(t, err)
	require.Equal(t, common.Filled, buy.Status)

	require.True(t, dec("10").Equal(balance(t, st, "buyer", "TEST")))
	require.True(t, dec("1000").Equal(balance(t, st, "seller", common.RUBTicker)))
	require.True(t, decimal.Zero.Equal(balance(t, st, "buyer", common.RUBTicker)))

	// A fully-filled LIMIT taker must not linger in the book: an order
	// rests only while it is OPEN or PARTIALLY_FILLED.
	bids, asks := m.Snapshot("TEST", 10)
	require.Empty(t, bids)
	require.Empty(t, asks)
}

// S2: the buyer's limit is above the maker's ask; the buyer pays the
// maker's price and the price-improvement difference is refunded.
func TestMatcher_BuyerGetsPriceImprovementRefund(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "seller", "TEST", dec("5"))
	fund(t, st, "buyer", common.RUBTicker, dec("600"))

	_, err := m.Place(ctx, PlaceRequest{UserID: "seller", Ticker: "TEST", Side: common.Sell, Type: common.LimitOrder, Qty: dec("5"), Price: dec("100")})
	require.NoError(t, err)

	buy, err := m.Place(ctx, PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("5"), Price: dec("120")})
	require.NoError(t, err)
	require.Equal(t, common.Filled, buy.Status)

	// reserved 600, refunded 5*(120-100)=100 back; paid 5*100=500 total.
	require.True(t, dec("100").Equal(balance(t, st, "buyer", common.RUBTicker)))
}

// S3: partial fill leaves a resting LIMIT counter-order with reduced
// quantity and PARTIALLY_FILLED status.
func TestMatcher_PartialFillLeavesResting(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "seller", "TEST", dec("10"))
	fund(t, st, "buyer", common.RUBTicker, dec("1000"))

	sell, err := m.Place(ctx, PlaceRequest{UserID: "seller", Ticker: "TEST", Side: common.Sell, Type: common.LimitOrder, Qty: dec("10"), Price: dec("100")})
	require.NoError(t, err)

	buy, err := m.Place(ctx, PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("4"), Price: dec("100")})
	require.NoError(t, err)
	require.Equal(t, common.Filled, buy.Status)

	bids, asks := m.Snapshot("TEST", 10)
	require.Empty(t, bids)
	require.Len(t, asks, 1)
	require.True(t, dec("6").Equal(asks[0].Quantity))
	_ = sell
}

// S4: a MARKET buy walks several resting orders and is funded
// transfer-by-transfer, halting cleanly if funds run out mid-walk.
func TestMatcher_MarketBuyStopsWhenFundsRunOut(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "seller", "TEST", dec("20"))
	fund(t, st, "buyer", common.RUBTicker, dec("150"))

	// Ten separate resting orders of qty 1 each: the matching loop steps
	// counter-order by counter-order, so funding is checked per order, not
	// per unit within a single order.
	for i := 0; i < 10; i++ {
		_, err := m.Place(ctx, PlaceRequest{UserID: "seller", Ticker: "TEST", Side: common.Sell, Type: common.LimitOrder, Qty: dec("1"), Price: dec("100")})
		require.NoError(t, err)
	}

	buy, err := m.Place(ctx, PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.MarketOrder, Qty: dec("10")})
	require.NoError(t, err)
	require.Equal(t, common.PartiallyFilled, buy.Status)
	require.True(t, dec("1").Equal(buy.Filled))
	// 150 funded, one fill at 100 paid; the remaining 50 cannot cover the next.
	require.True(t, dec("50").Equal(balance(t, st, "buyer", common.RUBTicker)))
}

// A MARKET SELL that only partially fills (or doesn't fill at all) never
// rests in the book, so its unfilled remainder must be released back to
// the seller's free balance rather than staying debited forever.
func TestMatcher_MarketSellReleasesUnfilledReservation(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "seller", "TEST", dec("10"))
	fund(t, st, "buyer", common.RUBTicker, dec("300"))

	_, err := m.Place(ctx, PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("3"), Price: dec("100")})
	require.NoError(t, err)

	sell, err := m.Place(ctx, PlaceRequest{UserID: "seller", Ticker: "TEST", Side: common.Sell, Type: common.MarketOrder, Qty: dec("10")})
	require.NoError(t, err)
	require.Equal(t, common.PartiallyFilled, sell.Status)
	require.True(t, dec("3").Equal(sell.Filled))

	// 10 reserved at placement, 3 consumed by the trade, 7 must come back.
	require.True(t, dec("7").Equal(balance(t, st, "seller", "TEST")))
}

// S5: self-trades are skipped; a user's own resting order is not matched
// against their own incoming order.
func TestMatcher_SkipsSelfTrade(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "alice", "TEST", dec("10"))
	fund(t, st, "alice", common.RUBTicker, dec("1000"))

	_, err := m.Place(ctx, PlaceRequest{UserID: "alice", Ticker: "TEST", Side: common.Sell, Type: common.LimitOrder, Qty: dec("10"), Price: dec("100")})
	require.NoError(t, err)

	buy, err := m.Place(ctx, PlaceRequest{UserID: "alice", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("10"), Price: dec("100")})
	require.NoError(t, err)
	require.Equal(t, common.Open, buy.Status)

	bids, asks := m.Snapshot("TEST", 10)
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
}

// Cancel releases the full remaining reservation and removes the order
// from the book.
func TestMatcher_CancelReleasesReservation(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "buyer", common.RUBTicker, dec("1000"))

	buy, err := m.Place(ctx, PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("10"), Price: dec("100")})
	require.NoError(t, err)
	require.True(t, decimal.Zero.Equal(balance(t, st, "buyer", common.RUBTicker)))

	cancelled, err := m.Cancel(ctx, "buyer", buy.ID)
	require.NoError(t, err)
	require.Equal(t, common.Cancelled, cancelled.Status)
	require.True(t, dec("1000").Equal(balance(t, st, "buyer", common.RUBTicker)))

	bids, _ := m.Snapshot("TEST", 10)
	require.Empty(t, bids)
}

func TestMatcher_CancelRejectsTerminalOrder(t *testing.T) {
	m, st := newTestMatcher(t)
	ctx := context.Background()
	fund(t, st, "buyer", common.RUBTicker, dec("1000"))

	buy, err := m.Place(ctx, PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("10"), Price: dec("100")})
	require.NoError(t, err)
	_, err = m.Cancel(ctx, "buyer", buy.ID)
	require.NoError(t, err)

	_, err = m.Cancel(ctx, "buyer", buy.ID)
	require.Error(t, err)
	require.Equal(t, common.KindBadState, common.KindOf(err))
}

func TestMatcher_PlaceRejectsUnknownInstrument(t *testing.T) {
	m, _ := newTestMatcher(t)
	_, err := m.Place(context.Background(), PlaceRequest{UserID: "buyer", Ticker: "NOPE", Side: common.Buy, Type: common.LimitOrder, Qty: dec("1"), Price: dec("1")})
	require.Error(t, err)
	require.Equal(t, common.KindUnknownInstrument, common.KindOf(err))
}

func TestMatcher_PlaceRejectsInsufficientFunds(t *testing.T) {
	m, st := newTestMatcher(t)
	fund(t, st, "buyer", common.RUBTicker, dec("10"))
	_, err := m.Place(context.Background(), PlaceRequest{UserID: "buyer", Ticker: "TEST", Side: common.Buy, Type: common.LimitOrder, Qty: dec("1"), Price: dec("100")})
	require.Error(t, err)
	require.Equal(t, common.KindInsufficientFunds, common.KindOf(err))
}

func TestMatcher_PlaceRejectsUnlistedInstrument(t *testing.T) {
	m, st := newTestMatcher(t)
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.PutInstrument(&common.Instrument{Ticker: "DELISTED", Name: "Delisted Co", IsListed: false})
	}))
	fund(t, st, "buyer", common.RUBTicker, dec("1000"))
	_, err := m.Place(context.Background(), PlaceRequest{UserID: "buyer", Ticker: "DELISTED", Side: common.Buy, Type: common.LimitOrder, Qty: dec("1"), Price: dec("100")})
	require.Error(t, err)
	require.Equal(t, common.KindUnknownInstrument, common.KindOf(err))
}

// RUB is the cash leg of every trade, never the traded instrument itself;
// placing an order against RUB would double-count it in the conservation
// invariant once a deal both debits and credits the same ticker.
func TestMatcher_PlaceRejectsRUBAsTradedInstrument(t *testing.T) {
	m, st := newTestMatcher(t)
	fund(t, st, "buyer", common.RUBTicker, dec("1000"))
	_, err := m.Place(context.Background(), PlaceRequest{UserID: "buyer", Ticker: common.RUBTicker, Side: common.Buy, Type: common.LimitOrder, Qty: dec("1"), Price: dec("100")})
	require.Error(t, err)
	require.Equal(t, common.KindBadRequest, common.KindOf(err))
}

