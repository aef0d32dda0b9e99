package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"forum/internal/auth"
	"forum/internal/common"
	"forum/internal/ledger"
	"forum/internal/matcher"
	"forum/internal/store"
	"forum/internal/tradelog"
)

// API wires the Matcher and Store into a chi-routed http.Handler. It is a
// translation-only boundary: it never runs matching logic itself, only
// maps transport in and out.
type API struct {
	st      store.Store
	match   *matcher.Matcher
	ledger  *ledger.Ledger
	trades  *tradelog.TradeLog
	handler http.Handler
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.handler.ServeHTTP(w, r) }

func (a *API) registerPublic(w http.ResponseWriter, r *http.Request, role common.Role) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, common.Errf(common.KindBadRequest, "invalid request body"))
		return
	}
	if req.Name == "" {
		writeError(w, r, common.Errf(common.KindBadRequest, "name is required"))
		return
	}
	key, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, r, err)
		return
	}
	u := &common.User{ID: newID(), Name: req.Name, Role: role, APIKey: key}
	err = a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		return tx.PutUser(u)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (a *API) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	a.registerPublic(w, r, common.RoleUser)
}

func (a *API) handleRegisterAdmin(w http.ResponseWriter, r *http.Request) {
	a.registerPublic(w, r, common.RoleAdmin)
}

func (a *API) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	var out []instrumentResponse
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		list, err := tx.ListInstruments()
		if err != nil {
			return err
		}
		for _, i := range list {
			if i.IsListed {
				out = append(out, instrumentResponse{Ticker: i.Ticker, Name: i.Name})
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := intQueryParam(r, "limit", 10)
	bids, asks := a.match.Snapshot(ticker, limit)
	resp := orderBookResponse{}
	for _, b := range bids {
		resp.Bids = append(resp.Bids, orderBookLevel{Price: b.Price.String(), Qty: b.Quantity.String()})
	}
	for _, ask := range asks {
		resp.Asks = append(resp.Asks, orderBookLevel{Price: ask.Price.String(), Qty: ask.Quantity.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := intQueryParam(r, "limit", 10)
	if limit > 100 {
		limit = 100
	}
	var out []tradeResponse
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		trades, err := a.trades.History(tx, ticker, limit)
		if err != nil {
			return err
		}
		for _, t := range trades {
			out = append(out, toTradeResponse(t))
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(userFromContext(r.Context())))
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	out := map[string]int64{}
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		instruments, err := tx.ListInstruments()
		if err != nil {
			return err
		}
		for _, inst := range instruments {
			bal, err := a.ledger.Balance(tx, u.ID, inst.Ticker)
			if err != nil {
				return err
			}
			out[inst.Ticker] = bal.IntPart()
		}
		rub, err := a.ledger.Balance(tx, u.ID, common.RUBTicker)
		if err != nil {
			return err
		}
		out[common.RUBTicker] = rub.IntPart()
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, common.Errf(common.KindBadRequest, "invalid request body"))
		return
	}

	var side common.Side
	switch req.Direction {
	case "BUY":
		side = common.Buy
	case "SELL":
		side = common.Sell
	default:
		writeError(w, r, common.Errf(common.KindBadRequest, "direction must be BUY or SELL"))
		return
	}

	qty := decimal.NewFromInt(req.Qty)

	orderType := common.MarketOrder
	var price decimal.Decimal
	if req.Price != nil {
		orderType = common.LimitOrder
		price = decimal.NewFromInt(*req.Price)
	}

	order, err := a.match.Place(r.Context(), matcher.PlaceRequest{
		UserID: u.ID, Ticker: req.Ticker, Side: side, Type: orderType, Qty: qty, Price: price,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	var out []orderResponse
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		orders, err := tx.OrdersByUser(u.ID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			out = append(out, toOrderResponse(o))
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	id := chi.URLParam(r, "id")
	var order *common.Order
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		o, err := tx.GetOrder(id)
		if err != nil {
			return err
		}
		if o.UserID != u.ID {
			return common.Errf(common.KindUnknownOrder, "order %s not found", id)
		}
		order = o
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	id := chi.URLParam(r, "id")
	_, err := a.match.Cancel(r.Context(), u.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (a *API) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req createInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, common.Errf(common.KindBadRequest, "invalid request body"))
		return
	}
	if req.Ticker == "" || req.Name == "" {
		writeError(w, r, common.Errf(common.KindBadRequest, "ticker and name are required"))
		return
	}
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		if _, err := tx.GetInstrument(req.Ticker); err == nil {
			return common.Errf(common.KindConflict, "instrument %s already exists", req.Ticker)
		}
		return tx.PutInstrument(&common.Instrument{Ticker: req.Ticker, Name: req.Name, IsListed: true})
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (a *API) handleDeleteInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		if _, err := tx.GetInstrument(ticker); err != nil {
			return err
		}
		return tx.DeleteInstrument(ticker)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		return tx.DeleteUser(id)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	a.adjustBalance(w, r, true)
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	a.adjustBalance(w, r, false)
}

func (a *API) adjustBalance(w http.ResponseWriter, r *http.Request, credit bool) {
	var req balanceDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, common.Errf(common.KindBadRequest, "invalid request body"))
		return
	}
	amount := decimal.NewFromInt(req.Amount)
	err := a.st.WithinTx(r.Context(), func(tx store.Tx) error {
		if _, err := tx.GetUser(req.UserID); err != nil {
			return err
		}
		if credit {
			if err := a.ledger.Credit(tx, req.UserID, req.Ticker, amount); err != nil {
				return err
			}
			return tx.AdjustNetExternal(req.Ticker, amount)
		}
		if err := a.ledger.Debit(tx, req.UserID, req.Ticker, amount); err != nil {
			return err
		}
		return tx.AdjustNetExternal(req.Ticker, amount.Neg())
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func intQueryParam(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
