// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/attest"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/vault"
	"github.com/stakewise/v3-core-sub003/vault/exitqueue"
)

type httpError struct {
	cause  error
	status int
}

func (e *httpError) Error() string {
	return e.cause.Error()
}

// HTTPError creates an error carrying an http status code.
func HTTPError(cause error, status int) error {
	return &httpError{
		cause:  cause,
		status: status,
	}
}

// BadRequest wraps cause as a http bad request error.
func BadRequest(cause error) error {
	return &httpError{
		cause:  cause,
		status: http.StatusBadRequest,
	}
}

// NotFound wraps cause as a http not found error.
func NotFound(cause error) error {
	return &httpError{
		cause:  cause,
		status: http.StatusNotFound,
	}
}

// HandlerFunc is like http.HandlerFunc but returns an error. Errors carrying
// a status respond with it, ledger policy errors map to their stable status,
// anything else responds 500.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// WrapHandlerFunc converts HandlerFunc to http.HandlerFunc.
func WrapHandlerFunc(f HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			if he, ok := err.(*httpError); ok {
				if he.cause != nil {
					http.Error(w, he.cause.Error(), he.status)
				} else {
					w.WriteHeader(he.status)
				}
				return
			}
			http.Error(w, err.Error(), statusOf(err))
		}
	}
}

// statusOf maps ledger policy errors to stable http statuses, so a UI can
// tell "try again later" from "your input is wrong".
func statusOf(err error) int {
	switch {
	case isAny(err, keeper.ErrTooEarly, exitqueue.ErrTooEarly):
		return http.StatusTooEarly
	case isAny(err, keeper.ErrAccessDenied, vault.ErrAccessDenied):
		return http.StatusForbidden
	case isAny(err, vault.ErrTicketNotFound):
		return http.StatusNotFound
	case isAny(err,
		attest.ErrInvalidSignature,
		keeper.ErrInvalidRate,
		keeper.ErrInvalidRoot,
		keeper.ErrInvalidProof,
		keeper.ErrOutOfBounds,
		exitqueue.ErrInvalidCheckpoint,
		exitqueue.ErrInvalidShares,
		vault.ErrInvalidAssets,
		vault.ErrInsufficientBalance,
	):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// content types
const (
	JSONContentType = "application/json; charset=utf-8"
)

// ParseJSON parses a JSON object using strict mode.
func ParseJSON(r io.Reader, v interface{}) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// WriteJSON responds an object in JSON encoding.
func WriteJSON(w http.ResponseWriter, obj interface{}) error {
	w.Header().Set("Content-Type", JSONContentType)
	return json.NewEncoder(w).Encode(obj)
}

// M shortcut for type map[string]interface{}.
type M map[string]interface{}
