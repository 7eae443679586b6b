// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package watch implements the optional hot-folder batch mode: a single
// cron schedule periodically scans a directory for capture files that
// haven't been reconstructed yet, running each through the exact same core
// pipeline cmd/flvcap uses for a single file. It is a scheduling
// collaborator wrapped around that pipeline, not a second implementation
// of it.
package watch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/robfig/cron/v3"
)

// ReconstructFunc runs the full capture-to-FLV pipeline for one input file,
// writing to outPath. It is supplied by cmd/flvcap so this package stays
// ignorant of the capture/reassembly/rtmp/flv wiring.
type ReconstructFunc func(inPath, outPath string) error

// FileResult records the outcome of reconstructing one capture file.
type FileResult struct {
	InputPath string    `json:"input_path"`
	OutputPath string   `json:"output_path,omitempty"`
	Status    string    `json:"status"` // "completed" or "failed"
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Watcher scans Dir on Schedule, reconstructing any capture file not yet
// present (by name) in OutDir.
type Watcher struct {
	dir      string
	outDir   string
	reconstr ReconstructFunc
	logger   *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	history []FileResult
}

// New creates a Watcher. schedule is a standard cron expression or a
// "@every ..." descriptor, as accepted by robfig/cron.
func New(dir, outDir, schedule string, reconstr ReconstructFunc, logger *slog.Logger) (*Watcher, error) {
	w := &Watcher{
		dir:      dir,
		outDir:   outDir,
		reconstr: reconstr,
		logger:   logger.With("component", "watch"),
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, w.scan); err != nil {
		return nil, fmt.Errorf("adding watch schedule %q: %w", schedule, err)
	}
	w.cron = c
	return w, nil
}

// Start begins the cron-scheduled scan loop. A first scan also runs
// immediately so a restart doesn't wait a full period before catching up
// on files already sitting in the hot folder.
func (w *Watcher) Start() {
	w.logger.Info("watch started", "dir", w.dir, "out_dir", w.outDir)
	w.scan()
	w.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight scan to finish.
func (w *Watcher) Stop(timeout time.Duration) {
	ctx := w.cron.Stop()
	select {
	case <-ctx.Done():
		w.logger.Info("watch stopped gracefully")
	case <-time.After(timeout):
		w.logger.Warn("watch stop timed out")
	}
}

// History returns every file result recorded so far, most recent last.
func (w *Watcher) History() []FileResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FileResult, len(w.history))
	copy(out, w.history)
	return out
}

func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("reading watch directory", "dir", w.dir, "error", err)
		return
	}

	var processed int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		inPath := filepath.Join(w.dir, e.Name())
		outPath := filepath.Join(w.outDir, outputName(e.Name()))

		if _, err := os.Stat(outPath); err == nil {
			continue // already reconstructed
		}

		processed++
		w.logger.Info("reconstructing capture", "input", inPath, "output", outPath)
		result := FileResult{InputPath: inPath, OutputPath: outPath, Timestamp: time.Now()}

		if err := w.reconstr(inPath, outPath); err != nil {
			result.Status = "failed"
			result.Error = err.Error()
			w.logger.Error("reconstruction failed", "input", inPath, "error", err)
		} else {
			result.Status = "completed"
			w.logger.Info("reconstruction completed", "input", inPath, "output", outPath)
		}

		w.mu.Lock()
		w.history = append(w.history, result)
		w.mu.Unlock()
	}

	if processed > 0 {
		w.logSummary()
	}
}

func outputName(inputName string) string {
	ext := filepath.Ext(inputName)
	return inputName[:len(inputName)-len(ext)] + ".flv"
}

// logSummary compresses the accumulated batch history with zstd and logs
// its size, so a long-running watcher's diagnostic footprint doesn't grow
// unbounded in the log stream even as history grows across many scans.
func (w *Watcher) logSummary() {
	w.mu.Lock()
	history := make([]FileResult, len(w.history))
	copy(history, w.history)
	w.mu.Unlock()

	raw, err := json.Marshal(history)
	if err != nil {
		w.logger.Warn("marshaling batch summary", "error", err)
		return
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		w.logger.Warn("creating zstd summary encoder", "error", err)
		return
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		w.logger.Warn("compressing batch summary", "error", err)
		return
	}
	if err := enc.Close(); err != nil {
		w.logger.Warn("closing zstd summary encoder", "error", err)
		return
	}

	w.logger.Info("batch summary",
		"files_total", len(history),
		"summary_raw_bytes", len(raw),
		"summary_compressed_bytes", buf.Len(),
	)
}
