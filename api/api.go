// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package api exposes the vault ledger over http. All endpoints take and
// return plain value types, suitable for an RPC boundary.
package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/stakewise/v3-core-sub003/eventdb"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/log"
	"github.com/stakewise/v3-core-sub003/metrics"
	"github.com/stakewise/v3-core-sub003/vault"
)

var logger = log.WithContext("pkg", "api")

// Options tunes the assembled handler.
type Options struct {
	AllowedOrigins  string
	EnableReqLogger bool
	EnableMetrics   bool
}

// New returns the api router wrapping the given components. The event db
// may be nil, which disables the history endpoints.
func New(k *keeper.Keeper, vaults []*vault.Vault, events *eventdb.EventDB, opts Options) http.HandlerFunc {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	NewVaults(vaults, events).Mount(router, "/vaults")
	NewRewards(k).Mount(router, "/rewards")

	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if opts.EnableMetrics {
		// resolved per request, so the route follows whichever metrics
		// implementation is installed by the time it is scraped
		router.Path("/metrics").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.HTTPHandler().ServeHTTP(w, r)
		}))
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type"}),
	)(handler)

	if opts.EnableReqLogger {
		handler = handlers.CustomLoggingHandler(nil, handler, writeRequestLog)
	}
	return handler.ServeHTTP
}

// writeRequestLog forwards gorilla's access records to the structured logger.
func writeRequestLog(_ io.Writer, params handlers.LogFormatterParams) {
	logger.Info("request",
		"method", params.Request.Method,
		"uri", params.URL.RequestURI(),
		"status", params.StatusCode,
		"size", params.Size,
	)
}
