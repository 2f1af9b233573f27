package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hiveplane/hiveplane/internal/lifecycle"
	"github.com/hiveplane/hiveplane/internal/reslock"
	"github.com/hiveplane/hiveplane/internal/store"
)

// errorResponse is the JSON error envelope for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrClaimHeld),
		errors.Is(err, store.ErrHandoffUnavailable),
		errors.Is(err, reslock.ErrLockHeld),
		errors.Is(err, lifecycle.ErrTransferActive),
		errors.Is(err, lifecycle.ErrSoulBound),
		errors.Is(err, lifecycle.ErrBodyUnavailable),
		errors.Is(err, lifecycle.ErrNoBoundBody),
		errors.Is(err, lifecycle.ErrBackwardStatus),
		errors.Is(err, lifecycle.ErrBadTransition),
		errors.Is(err, lifecycle.ErrTransferDone):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotOwner), errors.Is(err, reslock.ErrNotOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// serviceError writes the mapped status with the error message in the JSON
// envelope.
func serviceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
