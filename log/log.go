// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log provides package-scoped structured loggers on top of log/slog.
package log

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is the structured logger handed out to packages.
type Logger = *slog.Logger

var (
	root     atomic.Pointer[slog.Logger]
	levelVar = new(slog.LevelVar)
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	root.Store(slog.New(handler))
	levelVar.Set(slog.LevelInfo)
}

// WithContext returns a logger carrying the given context attributes.
// Typical use is a package-level `var logger = log.WithContext("pkg", "keeper")`.
func WithContext(args ...any) Logger {
	return root.Load().With(args...)
}

// Root returns the process-wide root logger.
func Root() Logger {
	return root.Load()
}

// SetLevel adjusts the level of the root handler.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// VerbosityToLevel maps a 0..4 verbosity flag to a slog level.
func VerbosityToLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelWarn
	case verbosity == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// SetOutput replaces the root handler. When json is true a JSON handler is
// installed, otherwise a text handler. Loggers created by WithContext after
// this call pick up the new handler.
func SetOutput(w io.Writer, json bool) {
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: levelVar})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar})
	}
	root.Store(slog.New(handler))
}
