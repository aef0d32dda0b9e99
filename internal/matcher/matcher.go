// Package matcher implements the exchange's core: order placement,
// matching, and cancellation. It is the only package that coordinates
// Ledger, Book, and TradeLog against a single store transaction, and the
// only one that takes locks — one lock per instrument, held for the
// duration of the call.
package matcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"forum/internal/book"
	"forum/internal/common"
	"forum/internal/ledger"
	"forum/internal/store"
	"forum/internal/tradelog"
)

// PlaceRequest is the input to Place, corresponding to the POST /order
// body once decoded and validated at the API boundary.
type PlaceRequest struct {
	UserID string
	Ticker string
	Side   common.Side
	Type   common.OrderType
	Qty    decimal.Decimal
	Price  decimal.Decimal // zero iff Type == MarketOrder
}

// Matcher owns one Book per ticker and serializes place/cancel per
// instrument via a per-ticker lock.
type Matcher struct {
	st     store.Store
	ledger *ledger.Ledger
	trades *tradelog.TradeLog
	now    func() time.Time
	log    zerolog.Logger

	mu    sync.Mutex // guards books and locks maps themselves, not matching
	books map[string]*book.Book
	locks map[string]*sync.Mutex
}

// New builds a Matcher over st. now defaults to time.Now; tests may
// override it for deterministic timestamps.
func New(st store.Store, log zerolog.Logger, now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{
		st:     st,
		ledger: ledger.New(),
		trades: tradelog.New(),
		now:    now,
		log:    log,
		books:  map[string]*book.Book{},
		locks:  map[string]*sync.Mutex{},
	}
}

func (m *Matcher) bookFor(ticker string) *book.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[ticker]
	if !ok {
		b = book.New(ticker)
		m.books[ticker] = b
	}
	return b
}

func (m *Matcher) lockFor(ticker string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[ticker]
	if !ok {
		l = &sync.Mutex{}
		m.locks[ticker] = l
	}
	return l
}

// Place validates req, reserves funds, persists the order, and runs the
// matching loop against resting counter-orders, all under the exclusive
// section for req.Ticker. It returns the final state of the taker order.
func (m *Matcher) Place(ctx context.Context, req PlaceRequest) (*common.Order, error) {
	if err := validatePlace(req); err != nil {
		return nil, err
	}

	lock := m.lockFor(req.Ticker)
	lock.Lock()
	defer lock.Unlock()

	b := m.bookFor(req.Ticker)

	order := &common.Order{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Ticker:    req.Ticker,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Qty,
		Filled:    decimal.Zero,
		Price:     req.Price,
		Status:    common.Open,
		CreatedAt: m.now(),
		UpdatedAt: m.now(),
	}

	err := m.st.WithinTx(ctx, func(tx store.Tx) error {
		inst, err := tx.GetInstrument(req.Ticker)
		if err != nil {
			return err
		}
		if !inst.IsListed {
			return common.Errf(common.KindUnknownInstrument, "instrument %s is not listed", req.Ticker)
		}
		if _, err := tx.GetInstrument(common.RUBTicker); err != nil {
			return common.Wrap(common.KindSystemError, err, "RUB settlement instrument missing")
		}

		if err := m.reserve(tx, order); err != nil {
			return err
		}
		if err := tx.InsertOrder(order); err != nil {
			return err
		}
		if order.Type == common.LimitOrder {
			b.Insert(order)
		}

		if err := m.runMatchingLoop(tx, b, order); err != nil {
			return err
		}
		if order.Type == common.LimitOrder {
			b.Update(order)
		} else if order.Side == common.Sell && order.Remaining().Sign() > 0 {
			// A MARKET order never rests, so any unmatched remainder is
			// terminal on return from the loop; a SELL reserved its full
			// quantity up front and that reservation must be released for
			// whatever never traded.
			if err := m.ledger.Release(tx, order.UserID, order.Ticker, order.Remaining()); err != nil {
				return err
			}
		}
		return tx.SaveOrder(order)
	})
	if err != nil {
		// Compensating cancellation for anything that reserved funds but
		// failed to commit cleanly. WithinTx already rolled back every
		// store effect, so only the in-memory book needs unwinding here.
		b.Remove(order)
		return nil, err
	}
	return order, nil
}

func validatePlace(req PlaceRequest) error {
	if req.Ticker == common.RUBTicker {
		return common.Errf(common.KindBadRequest, "RUB is the settlement currency, not a tradable instrument")
	}
	if req.Qty.Sign() <= 0 {
		return common.Errf(common.KindBadRequest, "qty must be positive, got %s", req.Qty)
	}
	if !req.Qty.Equal(req.Qty.Truncate(0)) {
		return common.Errf(common.KindBadRequest, "qty must be an integer, got %s", req.Qty)
	}
	if req.Type == common.LimitOrder && req.Price.Sign() <= 0 {
		return common.Errf(common.KindBadRequest, "price must be positive, got %s", req.Price)
	}
	return nil
}

// reserve performs the funds/asset check-and-debit step before the order
// is persisted or matched.
func (m *Matcher) reserve(tx store.Tx, o *common.Order) error {
	switch {
	case o.Side == common.Buy && o.Type == common.LimitOrder:
		required := o.Price.Mul(o.Quantity)
		return m.ledger.Reserve(tx, o.UserID, common.RUBTicker, required)
	case o.Side == common.Buy && o.Type == common.MarketOrder:
		free, err := m.ledger.Balance(tx, o.UserID, common.RUBTicker)
		if err != nil {
			return err
		}
		if free.Sign() <= 0 {
			return common.Errf(common.KindInsufficientFunds, "no free RUB balance for market buy")
		}
		return nil
	default: // SELL, either type
		return m.ledger.Reserve(tx, o.UserID, o.Ticker, o.Quantity)
	}
}

// runMatchingLoop walks best_opposite, skips self-trades, executes deals,
// and stops when the taker is filled or no eligible counter-order remains.
// It finalizes both the taker's and every touched counter-order's status
// before returning.
func (m *Matcher) runMatchingLoop(tx store.Tx, b *book.Book, taker *common.Order) error {
	for taker.Remaining().Sign() > 0 {
		var limit decimal.Decimal
		hasLimit := taker.Type == common.LimitOrder
		if hasLimit {
			limit = taker.Price
		}
		counters := b.BestOpposite(taker.Side, limit, hasLimit)

		counter := nextEligibleCounter(counters, taker.UserID)
		if counter == nil {
			break
		}

		dealQty := decimal.Min(taker.Remaining(), counter.Remaining())
		dealPrice := counter.Price

		if taker.Side == common.Buy && taker.Type == common.MarketOrder {
			free, err := m.ledger.Balance(tx, taker.UserID, common.RUBTicker)
			if err != nil {
				return err
			}
			if free.LessThan(dealQty.Mul(dealPrice)) {
				break // stop the loop cleanly, not an error
			}
		}

		if err := m.executeDeal(tx, taker, counter, dealQty, dealPrice); err != nil {
			return err
		}
		b.Update(counter)
		if err := tx.SaveOrder(counter); err != nil {
			return err
		}
	}
	finalizeTaker(taker)
	return nil
}

func nextEligibleCounter(counters []*common.Order, takerUser string) *common.Order {
	for _, c := range counters {
		if c.UserID != takerUser && c.Remaining().Sign() > 0 {
			return c
		}
	}
	return nil
}

// executeDeal applies one deal's effects inside the caller's transaction:
// credit both parties, refund the buyer's price improvement or debit a
// market buyer's cost, and append the trade record.
func (m *Matcher) executeDeal(tx store.Tx, taker, counter *common.Order, qty, price decimal.Decimal) error {
	var buyer, seller *common.Order
	if taker.Side == common.Buy {
		buyer, seller = taker, counter
	} else {
		buyer, seller = counter, taker
	}

	if err := m.ledger.Credit(tx, buyer.UserID, buyer.Ticker, qty); err != nil {
		return err
	}
	if err := m.ledger.Credit(tx, seller.UserID, common.RUBTicker, qty.Mul(price)); err != nil {
		return err
	}

	if buyer.Type == common.LimitOrder {
		if refund := qty.Mul(buyer.Price.Sub(price)); refund.Sign() > 0 {
			if err := m.ledger.Release(tx, buyer.UserID, common.RUBTicker, refund); err != nil {
				return err
			}
		}
	} else {
		if err := m.ledger.Debit(tx, buyer.UserID, common.RUBTicker, qty.Mul(price)); err != nil {
			return err
		}
	}

	now := m.now()
	taker.Filled = taker.Filled.Add(qty)
	taker.UpdatedAt = now
	counter.Filled = counter.Filled.Add(qty)
	counter.UpdatedAt = now
	if counter.Remaining().Sign() == 0 {
		counter.Status = common.Filled
	} else {
		counter.Status = common.PartiallyFilled
	}

	_, err := m.trades.Append(tx, taker.Ticker, price, qty, buyer.UserID, seller.UserID,
		buyerOrderID(taker, counter), sellerOrderID(taker, counter), now)
	return err
}

func buyerOrderID(taker, counter *common.Order) string {
	if taker.Side == common.Buy {
		return taker.ID
	}
	return counter.ID
}

func sellerOrderID(taker, counter *common.Order) string {
	if taker.Side == common.Sell {
		return taker.ID
	}
	return counter.ID
}

// finalizeTaker sets the taker's terminal status once the loop has
// stopped. Counter-order status (FILLED/PARTIALLY_FILLED) is set inline in
// executeDeal, and book.Update then drops any counter that became FILLED.
func finalizeTaker(taker *common.Order) {
	remaining := taker.Remaining()
	switch {
	case remaining.Sign() == 0:
		taker.Status = common.Filled
	case taker.Type == common.LimitOrder:
		if taker.Filled.Sign() == 0 {
			taker.Status = common.Open
		} else {
			taker.Status = common.PartiallyFilled
		}
	default: // MARKET taker with remaining > 0: never rests
		if taker.Filled.Sign() == 0 {
			taker.Status = common.Cancelled
		} else {
			taker.Status = common.PartiallyFilled
		}
	}
}

// Cancel loads an order, validates ownership and state, releases the
// remaining reservation, and removes it from the book.
//
// The store transaction and the book removal must happen under the same
// per-ticker lock Place uses: otherwise a concurrent Place could match
// against the book entry in the window between the order being marked
// CANCELLED in the store and being removed from the book, trading an
// order whose reservation was already released.
func (m *Matcher) Cancel(ctx context.Context, userID, orderID string) (*common.Order, error) {
	ticker, err := m.orderTicker(ctx, orderID)
	if err != nil {
		return nil, err
	}

	lock := m.lockFor(ticker)
	lock.Lock()
	defer lock.Unlock()
	b := m.bookFor(ticker)

	var cancelled *common.Order
	err = m.st.WithinTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return common.Errf(common.KindUnknownOrder, "order %s not found", orderID)
		}
		if o.Type != common.LimitOrder {
			// A MARKET order never rests (spec §4.3): Place already finalized
			// and released whatever it didn't fill, so there is no live
			// reservation left to release here. Treating a PARTIALLY_FILLED
			// market order as cancellable would release it a second time.
			return common.Errf(common.KindBadState, "order %s is MARKET, not cancellable", orderID)
		}
		if !o.Status.Resting() {
			return common.Errf(common.KindBadState, "order %s is %s, not cancellable", orderID, o.Status)
		}

		remaining := o.Remaining()
		switch {
		case o.Side == common.Sell:
			if err := m.ledger.Release(tx, o.UserID, o.Ticker, remaining); err != nil {
				return err
			}
		case o.Side == common.Buy:
			if err := m.ledger.Release(tx, o.UserID, common.RUBTicker, remaining.Mul(o.Price)); err != nil {
				return err
			}
		}

		o.Status = common.Cancelled
		o.UpdatedAt = m.now()
		if err := tx.SaveOrder(o); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.Remove(cancelled)
	return cancelled, nil
}

// orderTicker resolves which ticker's lock to take before the locked
// section begins; Cancel re-validates everything about the order again
// once the lock is held, so a stale read here is harmless.
func (m *Matcher) orderTicker(ctx context.Context, orderID string) (string, error) {
	var ticker string
	err := m.st.WithinTx(ctx, func(tx store.Tx) error {
		o, err := tx.GetOrder(orderID)
		if err != nil {
			return err
		}
		ticker = o.Ticker
		return nil
	})
	return ticker, err
}

// Recover rebuilds every ticker's in-memory Book from orders persisted as
// OPEN/PARTIALLY_FILLED. A MemStore never needs this (it has no restart to
// survive); a GormStore-backed Matcher must call it once at startup, or
// resting orders would sit in the durable store with no matching-loop
// visibility until touched again.
func (m *Matcher) Recover(ctx context.Context) error {
	return m.st.WithinTx(ctx, func(tx store.Tx) error {
		instruments, err := tx.ListInstruments()
		if err != nil {
			return err
		}
		for _, inst := range instruments {
			resting, err := tx.RestingOrders(inst.Ticker)
			if err != nil {
				return err
			}
			b := m.bookFor(inst.Ticker)
			for _, o := range resting {
				b.Insert(o)
			}
		}
		return nil
	})
}

// Snapshot returns the aggregated L2 book for ticker.
func (m *Matcher) Snapshot(ticker string, depth int) (bids, asks []book.Level) {
	lock := m.lockFor(ticker)
	lock.Lock()
	defer lock.Unlock()
	return m.bookFor(ticker).Snapshot(depth)
}
