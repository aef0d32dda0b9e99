package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"forum/internal/ledger"
	"forum/internal/matcher"
	"forum/internal/store"
	"forum/internal/tradelog"
)

func newID() string { return uuid.NewString() }

// New builds the full CommandAPI router with the middleware chain:
// logging -> requestID -> recoverer -> route-specific auth.
func New(st store.Store, match *matcher.Matcher, log zerolog.Logger) *API {
	a := &API{st: st, match: match, ledger: ledger.New(), trades: tradelog.New()}

	r := chi.NewRouter()
	r.Use(logging(log), requestID, recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/public", func(r chi.Router) {
			r.Post("/register", a.handleRegisterUser)
			r.Post("/register-admin", a.handleRegisterAdmin)
			r.Get("/instrument", a.handleListInstruments)
			r.Get("/orderbook/{ticker}", a.handleOrderBook)
			r.Get("/transactions/{ticker}", a.handleTransactions)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireUser(st))
			r.Get("/users/me", a.handleMe)
			r.Get("/balance", a.handleBalance)
			r.Post("/order", a.handlePlaceOrder)
			r.Get("/order", a.handleListOrders)
			r.Get("/order/{id}", a.handleGetOrder)
			r.Delete("/order/{id}", a.handleCancelOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireUser(st), requireAdmin)
			r.Post("/instrument", a.handleCreateInstrument)
			r.Delete("/instrument/{ticker}", a.handleDeleteInstrument)
			r.Delete("/user/{id}", a.handleDeleteUser)
			r.Post("/balance/deposit", a.handleDeposit)
			r.Post("/balance/withdraw", a.handleWithdraw)
		})
	})

	a.handler = r
	return a
}

var _ http.Handler = (*API)(nil)
