// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging builds the slog.Logger flvcap uses everywhere: one base
// logger per process, optionally fanned out to a dedicated per-run log
// file while a single capture is being reconstructed.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nishisan-dev/flvcap/internal/config"
)

// NewLogger builds the process-wide logger from cfg. Level defaults to
// info and format to JSON when left blank, matching config.applyDefaults.
// When cfg.File is set, records go to both stdout and the file via
// io.MultiWriter; the returned io.Closer must be closed on shutdown (it is
// a no-op closer when cfg.File is empty or couldn't be opened).
func NewLogger(cfg config.LoggingInfo) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var w io.Writer = os.Stdout
	closer := io.NopCloser(strings.NewReader(""))

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: could not open log file %q: %v (falling back to stdout only)\n", cfg.File, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	return slog.New(newHandler(cfg.Format, w, opts)), closer
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.ToLower(format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanOutHandler dispatches every record to two handlers independently,
// checking each one's Enabled before handing it off — a DEBUG record never
// reaches a handler configured for INFO or above.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A broken per-run log file must not take down the process-wide stream.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}

// NewRunLogger wraps baseLogger so records also land in
// {runLogDir}/{runID}.log, always at debug level regardless of the base
// logger's own level — a single reconstruction gets its full trace on
// disk even when the process-wide stream is set to warn or above. The
// returned io.Closer must be closed once the run finishes, success or
// failure. If runLogDir is empty, baseLogger is returned unmodified with a
// no-op closer.
func NewRunLogger(baseLogger *slog.Logger, runLogDir, runID string) (*slog.Logger, io.Closer, string, error) {
	if runLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(runLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating run log directory %s: %w", runLogDir, err)
	}

	logPath := filepath.Join(runLogDir, runID+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening run log file %s: %w", logPath, err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	combined := &fanOutHandler{primary: baseLogger.Handler(), secondary: fileHandler}

	return slog.New(combined), f, logPath, nil
}

// RemoveRunLog deletes a finished run's dedicated log file. No-op if
// runLogDir is empty or the file is already gone — called once a
// reconstruction has committed successfully, so only failed runs leave a
// per-run log behind for inspection.
func RemoveRunLog(runLogDir, runID string) {
	if runLogDir == "" {
		return
	}
	os.Remove(filepath.Join(runLogDir, runID+".log"))
}
