// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nishisan-dev/flvcap/internal/config"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	logger, closer := NewLogger(config.LoggingInfo{Level: "info", Format: "json"})
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger, closer := NewLogger(config.LoggingInfo{Level: "info", Format: "text"})
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_DefaultFormat(t *testing.T) {
	logger, closer := NewLogger(config.LoggingInfo{Level: "info", Format: ""})
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_AllLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger, closer := NewLogger(config.LoggingInfo{Level: lvl, Format: "json"})
		closer.Close()
		if logger == nil {
			t.Fatalf("level %q: expected non-nil logger", lvl)
		}
	}
}

func TestNewLogger_WithFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	logger, closer := NewLogger(config.LoggingInfo{Level: "info", Format: "json", File: path})
	logger.Info("hello from test")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Fatalf("log file missing expected record, got: %s", data)
	}
}

func TestNewLogger_WithFileOutput_InvalidPath(t *testing.T) {
	logger, closer := NewLogger(config.LoggingInfo{Level: "info", Format: "json", File: "/nonexistent-dir/x/out.log"})
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected fallback logger even when file open fails")
	}
}

func TestNewRunLogger_NoOpWhenDirEmpty(t *testing.T) {
	base, _ := NewLogger(config.LoggingInfo{Level: "info", Format: "json"})
	got, closer, path, err := NewRunLogger(base, "", "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != base {
		t.Fatal("expected base logger to be returned unmodified")
	}
	if path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
	closer.Close()
}

func TestNewRunLogger_WritesFanOut(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	run, closer, path, err := NewRunLogger(base, dir, "run-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	run.Debug("debug line only for the run file")
	run.Warn("warn line for both")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	if !strings.Contains(string(data), "debug line only for the run file") {
		t.Fatalf("run log missing debug record: %s", data)
	}
	if !strings.Contains(string(data), "warn line for both") {
		t.Fatalf("run log missing warn record: %s", data)
	}
	if strings.Contains(buf.String(), "debug line only for the run file") {
		t.Fatalf("base logger should not have received the debug-level record: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "warn line for both") {
		t.Fatalf("base logger missing warn record: %s", buf.String())
	}
}

func TestRemoveRunLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run-7.log")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("seeding run log: %v", err)
	}

	RemoveRunLog(dir, "run-7")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected run log to be removed, stat err = %v", err)
	}
}

func TestRemoveRunLog_NoOpWhenDirEmpty(t *testing.T) {
	RemoveRunLog("", "run-7")
}
