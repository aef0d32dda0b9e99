package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"forum/internal/common"
	"forum/internal/matcher"
	"forum/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.PutInstrument(&common.Instrument{Ticker: common.RUBTicker, Name: "Ruble", IsListed: true}); err != nil {
			return err
		}
		return tx.PutInstrument(&common.Instrument{Ticker: "TEST", Name: "Test Co", IsListed: true})
	}))
	match := matcher.New(st, zerolog.Nop(), nil)
	a := New(st, match, zerolog.Nop())
	return httptest.NewServer(a), st
}

func doJSON(t *testing.T, method, url string, apiKey string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("Authorization", "TOKEN "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestAPI_RegisterAndPlaceAndCancelOrder(t *testing.T) {
	srv, st := newTestServer(t)
	defer srv.Close()

	var user userResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/register", "", registerRequest{Name: "alice"}, &user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, user.APIKey)
	require.Equal(t, "USER", user.Role)

	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.PutBalance(user.ID, common.RUBTicker, decimal.RequireFromString("1000"))
	}))

	var placed orderResponse
	price := int64(100)
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/order", user.APIKey,
		placeOrderRequest{Direction: "BUY", Ticker: "TEST", Qty: 5, Price: &price}, &placed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, common.Open.String(), placed.Status)

	var book orderBookResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/public/orderbook/TEST", "", nil, &book)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, book.Bids, 1)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/order/"+placed.ID, user.APIKey, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	book = orderBookResponse{}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/public/orderbook/TEST", "", nil, &book)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, book.Bids)
}

func TestAPI_RejectsMissingAuthorization(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/balance", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_RejectsNonAdminOnAdminEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	var user userResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/register", "", registerRequest{Name: "bob"}, &user)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/instrument", user.APIKey,
		createInstrumentRequest{Ticker: "FOO", Name: "Foo Inc"}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_AdminCanDepositAndCreateInstrument(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	var admin userResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/register-admin", "", registerRequest{Name: "root"}, &admin)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/instrument", admin.APIKey,
		createInstrumentRequest{Ticker: "FOO", Name: "Foo Inc"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var user userResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/register", "", registerRequest{Name: "carol"}, &user)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/admin/balance/deposit", admin.APIKey,
		balanceDepositRequest{UserID: user.ID, Ticker: common.RUBTicker, Amount: 500}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var balances map[string]int64
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/balance", user.APIKey, nil, &balances)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(500), balances[common.RUBTicker])
}

// A client sending the literal wire body {"qty": <integer>, "price": <integer>}
// must decode cleanly: qty/price are JSON numbers on the wire, not strings.
func TestAPI_PlaceOrderAcceptsLiteralJSONNumbers(t *testing.T) {
	srv, st := newTestServer(t)
	defer srv.Close()

	var user userResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/v1/public/register", "", registerRequest{Name: "dave"}, &user)
	require.NoError(t, st.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.PutBalance(user.ID, common.RUBTicker, decimal.RequireFromString("1000"))
	}))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/order",
		bytes.NewReader([]byte(`{"direction":"BUY","ticker":"TEST","qty":5,"price":100}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "TOKEN "+user.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var placed orderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&placed))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "5", placed.Qty)
}
