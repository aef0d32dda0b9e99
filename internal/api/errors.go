package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"forum/internal/common"
)

// KindToStatus is the only place an error Kind becomes an HTTP status.
func KindToStatus(k common.Kind) int {
	switch k {
	case common.KindBadRequest:
		return http.StatusBadRequest
	case common.KindUnknownInstrument, common.KindUnknownUser, common.KindUnknownOrder:
		return http.StatusNotFound
	case common.KindUnauthorized:
		return http.StatusUnauthorized
	case common.KindForbidden:
		return http.StatusForbidden
	case common.KindInsufficientFunds, common.KindBadState, common.KindConflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError translates err into the {"code","message"} envelope, logging
// 5xx at error level.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := common.KindOf(err)
	status := KindToStatus(kind)
	if status >= 500 {
		hlog.FromRequest(r).Error().Err(err).Msg("internal error")
	}
	writeJSON(w, status, errorBody{Code: kind.String(), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
