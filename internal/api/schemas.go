package api

import "forum/internal/common"

// schemas.go holds thin request/response DTOs, kept separate from the
// common.* domain types so wire format can evolve independently of
// storage/matching types.

type registerRequest struct {
	Name string `json:"name"`
}

type userResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	APIKey string `json:"api_key"`
}

func toUserResponse(u *common.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Role: u.Role.String(), APIKey: u.APIKey}
}

type instrumentResponse struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

type createInstrumentRequest struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

type orderBookLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type orderBookResponse struct {
	Bids []orderBookLevel `json:"bid_levels"`
	Asks []orderBookLevel `json:"ask_levels"`
}

type tradeResponse struct {
	Ticker    string `json:"ticker"`
	Price     string `json:"price"`
	Qty       string `json:"qty"`
	Timestamp string `json:"timestamp"`
}

func toTradeResponse(t common.Trade) tradeResponse {
	return tradeResponse{
		Ticker:    t.Ticker,
		Price:     t.Price.String(),
		Qty:       t.Quantity.String(),
		Timestamp: t.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
}

type placeOrderRequest struct {
	Direction string `json:"direction"`
	Ticker    string `json:"ticker"`
	Qty       int64  `json:"qty"`
	Price     *int64 `json:"price,omitempty"`
}

type orderResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Ticker    string `json:"ticker"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Qty       string `json:"qty"`
	Filled    string `json:"filled"`
	Price     string `json:"price,omitempty"`
	Status    string `json:"status"`
}

func toOrderResponse(o *common.Order) orderResponse {
	resp := orderResponse{
		ID: o.ID, UserID: o.UserID, Ticker: o.Ticker,
		Direction: o.Side.String(), Type: o.Type.String(),
		Qty: o.Quantity.String(), Filled: o.Filled.String(),
		Status: o.Status.String(),
	}
	if o.HasPrice() {
		resp.Price = o.Price.String()
	}
	return resp
}

type balanceDepositRequest struct {
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

type okResponse struct {
	Success bool `json:"success"`
}

var ok = okResponse{Success: true}
