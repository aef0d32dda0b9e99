package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"forum/internal/auth"
	"forum/internal/common"
	"forum/internal/store"
)

type ctxKey int

const userCtxKey ctxKey = iota

// requestID stamps every request with a UUID so every log line and
// response can be correlated back to the request that produced it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := hlog.FromRequest(r).With().Str("request_id", id).Logger().WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging emits one zerolog line per request.
func logging(log zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", dur).
			Msg("request")
	})
	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(log)(access(next))
	}
}

// recoverer turns a panic inside a handler into a bare 500 response (no
// {"code","message"} body) instead of killing the listener goroutine.
func recoverer(next http.Handler) http.Handler {
	return middleware.Recoverer(next)
}

// requireUser resolves the Authorization header into a store.Tx-backed
// user lookup and stores it on the request context; it never distinguishes
// role, so admin-only endpoints additionally run requireAdmin.
func requireUser(st store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := auth.ExtractKey(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, common.Errf(common.KindUnauthorized, "missing or malformed Authorization header"))
				return
			}
			var user *common.User
			err := st.WithinTx(r.Context(), func(tx store.Tx) error {
				u, err := tx.GetUserByAPIKey(key)
				user = u
				return err
			})
			if err != nil {
				writeError(w, r, common.Errf(common.KindUnauthorized, "unknown api key"))
				return
			}
			ctx := context.WithValue(r.Context(), userCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireAdmin must run after requireUser; it rejects non-admin callers
// with Forbidden.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFromContext(r.Context())
		if u == nil || u.Role != common.RoleAdmin {
			writeError(w, r, common.Errf(common.KindForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) *common.User {
	u, _ := ctx.Value(userCtxKey).(*common.User)
	return u
}
