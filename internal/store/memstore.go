package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"forum/internal/common"
)

// MemStore is an in-memory Store. WithinTx takes a single mutex for the
// whole closure — coarse database-level serialization applied since
// there's no real engine underneath to give us row locks — and snapshots
// every map before calling fn, restoring the snapshot if fn returns an
// error. That gives the same rollback guarantee GormStore gets from
// db.Transaction (gormstore.go), so a caller never has to know which
// store backs it.
type MemStore struct {
	mu sync.Mutex

	balances     map[string]decimal.Decimal // key: userID|ticker
	orders       map[string]*common.Order
	instruments  map[string]*common.Instrument
	users        map[string]*common.User
	usersByKey   map[string]string         // apiKey -> userID
	trades       map[string][]common.Trade // key: ticker
	nextTradeSeq uint64
	netExternal  map[string]decimal.Decimal // key: ticker
}

// NewMemStore returns an empty in-memory store. The caller is expected to
// seed the RUB instrument before accepting any orders.
func NewMemStore() *MemStore {
	return &MemStore{
		balances:    map[string]decimal.Decimal{},
		orders:      map[string]*common.Order{},
		instruments: map[string]*common.Instrument{},
		users:       map[string]*common.User{},
		usersByKey:  map[string]string{},
		trades:      map[string][]common.Trade{},
		netExternal: map[string]decimal.Decimal{},
	}
}

func balKey(userID, ticker string) string { return userID + "|" + ticker }

// memSnapshot is a point-in-time copy of every MemStore map, taken before
// a transaction runs. Every memTx write replaces a map entry wholesale
// rather than mutating a shared value in place, so a shallow copy of each
// map (plus a deep copy of the trade slices, which grow by append) is
// enough to undo the transaction: restoring just swaps the live maps back
// for the pre-transaction ones.
type memSnapshot struct {
	balances     map[string]decimal.Decimal
	orders       map[string]*common.Order
	instruments  map[string]*common.Instrument
	users        map[string]*common.User
	usersByKey   map[string]string
	trades       map[string][]common.Trade
	nextTradeSeq uint64
	netExternal  map[string]decimal.Decimal
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTrades(m map[string][]common.Trade) map[string][]common.Trade {
	out := make(map[string][]common.Trade, len(m))
	for k, v := range m {
		cp := make([]common.Trade, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func (s *MemStore) snapshot() memSnapshot {
	return memSnapshot{
		balances:     cloneMap(s.balances),
		orders:       cloneMap(s.orders),
		instruments:  cloneMap(s.instruments),
		users:        cloneMap(s.users),
		usersByKey:   cloneMap(s.usersByKey),
		trades:       cloneTrades(s.trades),
		nextTradeSeq: s.nextTradeSeq,
		netExternal:  cloneMap(s.netExternal),
	}
}

func (s *MemStore) restore(snap memSnapshot) {
	s.balances = snap.balances
	s.orders = snap.orders
	s.instruments = snap.instruments
	s.users = snap.users
	s.usersByKey = snap.usersByKey
	s.trades = snap.trades
	s.nextTradeSeq = snap.nextTradeSeq
	s.netExternal = snap.netExternal
}

func (s *MemStore) WithinTx(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// memTx is the Tx view handed to callers inside WithinTx. It is not safe
// to retain beyond the call to fn.
type memTx struct{ s *MemStore }

func (t *memTx) GetBalance(userID, ticker string) (decimal.Decimal, error) {
	if v, ok := t.s.balances[balKey(userID, ticker)]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

func (t *memTx) PutBalance(userID, ticker string, amount decimal.Decimal) error {
	t.s.balances[balKey(userID, ticker)] = amount
	return nil
}

func (t *memTx) AllBalances(ticker string) ([]common.Balance, error) {
	var out []common.Balance
	suffix := "|" + ticker
	for k, v := range t.s.balances {
		if hasSuffix(k, suffix) {
			out = append(out, common.Balance{UserID: k[:len(k)-len(suffix)], Ticker: ticker, Amount: v})
		}
	}
	return out, nil
}

func (t *memTx) NetExternal(ticker string) (decimal.Decimal, error) {
	if v, ok := t.s.netExternal[ticker]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

func (t *memTx) AdjustNetExternal(ticker string, delta decimal.Decimal) error {
	t.s.netExternal[ticker] = t.s.netExternal[ticker].Add(delta)
	return nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func (t *memTx) InsertOrder(o *common.Order) error {
	cp := *o
	t.s.orders[o.ID] = &cp
	return nil
}

func (t *memTx) SaveOrder(o *common.Order) error {
	if _, ok := t.s.orders[o.ID]; !ok {
		return common.Errf(common.KindUnknownOrder, "order %s not found", o.ID)
	}
	cp := *o
	t.s.orders[o.ID] = &cp
	return nil
}

func (t *memTx) GetOrder(id string) (*common.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, common.Errf(common.KindUnknownOrder, "order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (t *memTx) OrdersByUser(userID string) ([]*common.Order, error) {
	var out []*common.Order
	for _, o := range t.s.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) RestingOrders(ticker string) ([]*common.Order, error) {
	var out []*common.Order
	for _, o := range t.s.orders {
		if o.Ticker == ticker && o.Type == common.LimitOrder && o.Status.Resting() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) NextTradeSeq() (uint64, error) {
	t.s.nextTradeSeq++
	return t.s.nextTradeSeq, nil
}

func (t *memTx) AppendTrade(tr common.Trade) error {
	t.s.trades[tr.Ticker] = append(t.s.trades[tr.Ticker], tr)
	return nil
}

func (t *memTx) TradeHistory(ticker string, limit int) ([]common.Trade, error) {
	all := t.s.trades[ticker]
	out := make([]common.Trade, len(all))
	copy(out, all)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) GetInstrument(ticker string) (*common.Instrument, error) {
	i, ok := t.s.instruments[ticker]
	if !ok {
		return nil, common.Errf(common.KindUnknownInstrument, "instrument %s not found", ticker)
	}
	cp := *i
	return &cp, nil
}

func (t *memTx) PutInstrument(i *common.Instrument) error {
	cp := *i
	t.s.instruments[i.Ticker] = &cp
	return nil
}

func (t *memTx) DeleteInstrument(ticker string) error {
	delete(t.s.instruments, ticker)
	for k := range t.s.orders {
		if t.s.orders[k].Ticker == ticker {
			delete(t.s.orders, k)
		}
	}
	suffix := "|" + ticker
	for k := range t.s.balances {
		if hasSuffix(k, suffix) {
			delete(t.s.balances, k)
		}
	}
	return nil
}

func (t *memTx) ListInstruments() ([]common.Instrument, error) {
	out := make([]common.Instrument, 0, len(t.s.instruments))
	for _, i := range t.s.instruments {
		out = append(out, *i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (t *memTx) GetUser(id string) (*common.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, common.Errf(common.KindUnknownUser, "user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (t *memTx) GetUserByAPIKey(apiKey string) (*common.User, error) {
	id, ok := t.s.usersByKey[apiKey]
	if !ok {
		return nil, common.Errf(common.KindUnauthorized, "unknown api key")
	}
	return t.GetUser(id)
}

func (t *memTx) PutUser(u *common.User) error {
	cp := *u
	t.s.users[u.ID] = &cp
	t.s.usersByKey[u.APIKey] = u.ID
	return nil
}

func (t *memTx) DeleteUser(id string) error {
	u, ok := t.s.users[id]
	if !ok {
		return common.Errf(common.KindUnknownUser, "user %s not found", id)
	}
	delete(t.s.usersByKey, u.APIKey)
	delete(t.s.users, id)
	for k := range t.s.orders {
		if t.s.orders[k].UserID == id {
			delete(t.s.orders, k)
		}
	}
	return nil
}
