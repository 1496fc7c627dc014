package api

import (
	"errors"
	"net/http"

	"github.com/indiafolio/mfledger/internal/model"
	"github.com/indiafolio/mfledger/internal/quote"
)

// writeDomainError maps a domain sentinel error to the status codes of
// spec §6's error table and writes the envelope. Anything unrecognized is
// a 500 — internal details are not echoed to the caller (spec §7).
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInsufficientUnits):
		writeError(w, http.StatusUnprocessableEntity, "InsufficientUnits")
	case errors.Is(err, model.ErrHasTransactions):
		writeError(w, http.StatusUnprocessableEntity, "HasTransactions")
	case errors.Is(err, model.ErrNavUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "NavUnavailable")
	case errors.Is(err, model.ErrNoPosition):
		writeError(w, http.StatusNotFound, "no such portfolio")
	case errors.Is(err, model.ErrSchemeNotFound):
		writeError(w, http.StatusNotFound, "no such scheme")
	case errors.Is(err, model.ErrInvalidSchemeCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrDuplicatePortfolio):
		writeError(w, http.StatusConflict, "duplicate portfolio")
	case errors.Is(err, model.ErrRefreshAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, quote.ErrSchemeUnknown):
		writeError(w, http.StatusNotFound, "no such scheme")
	case isTimeout(err):
		writeError(w, http.StatusGatewayTimeout, "provider request timed out")
	case isProviderFailure(err):
		writeError(w, http.StatusBadGateway, "provider request failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isTimeout(err error) bool {
	var terr *quote.TransportError
	if !errors.As(err, &terr) {
		return false
	}
	type timeouter interface{ Timeout() bool }
	var t timeouter
	return errors.As(terr.Unwrap(), &t) && t.Timeout()
}

func isProviderFailure(err error) bool {
	var terr *quote.TransportError
	var perr *quote.ParseError
	return errors.As(err, &terr) || errors.As(err, &perr)
}
