// Package book implements the per-instrument resting-order collection:
// price-time priority on both sides, best-opposite iteration for the
// matcher, and an aggregated L2 snapshot for the public order-book
// endpoint. Each side is a tidwall/btree.BTreeG[*PriceLevel], and one Book
// exists per ticker, owned by the matcher behind a per-ticker lock.
package book

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"forum/internal/common"
)

// PriceLevel holds every resting order at one price, oldest first — the
// FIFO order is maintained by always appending new orders and removing an
// order in place, never reordering the ones that remain.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*common.Order
}

type priceLevels = btree.BTreeG[*PriceLevel]

// Book is the resting limit-order collection for a single ticker.
type Book struct {
	Ticker string
	bids   *priceLevels // highest price first
	asks   *priceLevels // lowest price first
}

// New creates an empty book for ticker.
func New(ticker string) *Book {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &Book{Ticker: ticker, bids: bids, asks: asks}
}

func (b *Book) levels(side common.Side) *priceLevels {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting LIMIT order (status OPEN or PARTIALLY_FILLED) to
// its side, at the back of its price level's FIFO queue.
func (b *Book) Insert(o *common.Order) {
	levels := b.levels(o.Side)
	level, ok := levels.GetMut(&PriceLevel{Price: o.Price})
	if ok {
		level.Orders = append(level.Orders, o)
		return
	}
	levels.Set(&PriceLevel{Price: o.Price, Orders: []*common.Order{o}})
}

// Remove drops an order from the book by identity, used once its status
// becomes terminal (Update already removes terminal orders; Remove exists
// for explicit cancellation).
func (b *Book) Remove(o *common.Order) {
	levels := b.levels(o.Side)
	level, ok := levels.GetMut(&PriceLevel{Price: o.Price})
	if !ok {
		return
	}
	level.Orders = removeOrder(level.Orders, o.ID)
	if len(level.Orders) == 0 {
		levels.Delete(level)
	}
}

// Update reflects a change in an order's filled quantity/status. If the
// order became terminal it is removed from the book; a Market order is
// never present since it never rested.
func (b *Book) Update(o *common.Order) {
	if o.Status.Terminal() {
		b.Remove(o)
	}
}

func removeOrder(orders []*common.Order, id string) []*common.Order {
	for i, o := range orders {
		if o.ID == id {
			return append(orders[:i], orders[i+1:]...)
		}
	}
	return orders
}

// BestOpposite returns the resting orders a taker on takerSide at
// takerPrice (the zero Decimal for a MARKET taker, meaning "no limit")
// should attempt to match against, already in price-time priority order.
//
// A BUY taker matches SELL orders ascending by price; a SELL taker matches
// BUY orders descending by price. When the taker carries a limit price,
// only orders that satisfy it are returned (sell.Price <= buyLimit,
// buy.Price >= sellLimit).
func (b *Book) BestOpposite(takerSide common.Side, limitPrice decimal.Decimal, hasLimit bool) []*common.Order {
	oppositeSide := common.Sell
	if takerSide == common.Sell {
		oppositeSide = common.Buy
	}
	levels := b.levels(oppositeSide)

	var out []*common.Order
	levels.Scan(func(level *PriceLevel) bool {
		if hasLimit {
			if takerSide == common.Buy && level.Price.GreaterThan(limitPrice) {
				return false // asks ascending: once above the bid limit, stop
			}
			if takerSide == common.Sell && level.Price.LessThan(limitPrice) {
				return false // bids descending: once below the ask limit, stop
			}
		}
		out = append(out, level.Orders...)
		return true
	})
	return out
}

// Level is one aggregated price/quantity pair in an L2 snapshot.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Snapshot aggregates remaining quantity (quantity - filled) by price
// level across the whole book, THEN truncates to the top `depth` levels
// per side, so a deep book with many orders at one price never shows
// fewer levels than it should.
func (b *Book) Snapshot(depth int) (bids, asks []Level) {
	bids = aggregate(b.bids, depth)
	asks = aggregate(b.asks, depth)
	return
}

func aggregate(levels *priceLevels, depth int) []Level {
	var out []Level
	levels.Scan(func(level *PriceLevel) bool {
		if depth >= 0 && len(out) >= depth {
			return false
		}
		qty := decimal.Zero
		for _, o := range level.Orders {
			qty = qty.Add(o.Remaining())
		}
		out = append(out, Level{Price: level.Price, Quantity: qty})
		return true
	})
	return out
}

// Levels exposes the raw price levels on one side, in priority order —
// used by tests that want to assert on book structure directly.
func (b *Book) Levels(side common.Side) []*PriceLevel {
	var out []*PriceLevel
	b.levels(side).Scan(func(level *PriceLevel) bool {
		out = append(out, level)
		return true
	})
	return out
}
