// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nishisan-dev/flvcap/internal/bytestream"
	"github.com/nishisan-dev/flvcap/internal/capture"
	"github.com/nishisan-dev/flvcap/internal/captureio"
	"github.com/nishisan-dev/flvcap/internal/config"
	"github.com/nishisan-dev/flvcap/internal/diag"
	"github.com/nishisan-dev/flvcap/internal/flv"
	"github.com/nishisan-dev/flvcap/internal/health"
	"github.com/nishisan-dev/flvcap/internal/logging"
	"github.com/nishisan-dev/flvcap/internal/reassembly"
	"github.com/nishisan-dev/flvcap/internal/rtmp"
	"github.com/nishisan-dev/flvcap/internal/sink"
)

// reconstruct runs the full capture→reassembly→RTMP→FLV pipeline for one
// capture file, writing the resulting FLV to outPath. It is the single
// place that wires every core component together; cmd/flvcap's single-file
// mode and internal/watch's batch mode both call through it.
func reconstruct(ctx context.Context, cfg *config.Config, inPath, outPath string, logger *slog.Logger) (err error) {
	runID := strings.TrimSuffix(filepath.Base(outPath), filepath.Ext(outPath))
	logger, runLogCloser, runLogPath, rlErr := logging.NewRunLogger(logger, cfg.Logging.RunLogDir, runID)
	if rlErr != nil {
		return fmt.Errorf("opening run log: %w", rlErr)
	}
	defer func() {
		runLogCloser.Close()
		if err == nil && runLogPath != "" {
			logging.RemoveRunLog(cfg.Logging.RunLogDir, runID)
		}
	}()

	outDir := filepath.Dir(outPath)
	if cfg.Health.Enabled {
		if err := health.CheckFreeDisk(outDir, cfg.Health.MinFreeDiskRaw); err != nil {
			return fmt.Errorf("pre-flight disk check: %w", err)
		}
	}

	reader, err := captureio.Open(inPath)
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer reader.Close()

	adapter := capture.NewAdapter()
	buf := reassembly.NewBuffer(reassembly.GapPolicy{
		Strict:      !cfg.Reassembly.IgnoreMissing,
		InsertZeros: cfg.Reassembly.InsertZeros,
	})

	for {
		seg, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading capture: %w", err)
		}

		accepted, idx, acceptErr := adapter.Accept(seg)
		if acceptErr != nil {
			return acceptErr
		}
		if err := buf.Accept(accepted, idx); err != nil {
			return err
		}
	}

	stream, err := buf.Finalize()
	if err != nil {
		return err
	}

	if cfg.Diagnostics.HexDump && cfg.Diagnostics.DumpPath != "" {
		if err := writeDiagnostics(cfg, stream); err != nil {
			logger.Warn("writing diagnostics", "error", err)
		}
	}

	cursor := bytestream.NewCursor(stream)
	decoder := rtmp.NewDecoder(cursor, rtmp.Options{
		ChunkSize:    cfg.RTMP.DefaultChunkSize,
		MaxRoutingID: cfg.RTMP.MaxRoutingID,
		InsertZeros:  cfg.Reassembly.InsertZeros,
		Logger:       logger,
	})

	writer, err := flv.NewWriter(outPath, cfg.Output.BandwidthLimitRaw)
	if err != nil {
		return fmt.Errorf("creating flv writer: %w", err)
	}

	var monitor *health.Monitor
	if cfg.Health.Enabled {
		monitor = health.NewMonitor(logger, outDir, cfg.Health.CheckInterval)
		monitor.Start()
		defer monitor.Stop()
	}

	muxer := flv.NewMuxer(decoder, writer, logger)
	if err := muxer.Run(); err != nil {
		return err
	}

	if cfg.Sink.Enabled {
		if err := uploadToSink(ctx, cfg, outPath, logger); err != nil {
			// Upload failure doesn't undo a successful reconstruction; the
			// FLV file is already committed on local disk.
			logger.Error("uploading output to s3", "error", err)
		}
	}

	return nil
}

func writeDiagnostics(cfg *config.Config, stream *reassembly.Stream) error {
	f, err := os.Create(cfg.Diagnostics.DumpPath)
	if err != nil {
		return fmt.Errorf("creating diagnostics file: %w", err)
	}
	defer f.Close()

	var all []byte
	for _, c := range stream.Chunks {
		all = append(all, c.Data...)
	}

	if err := diag.HexDump(f, all); err != nil {
		return fmt.Errorf("writing hex dump: %w", err)
	}

	if cfg.Diagnostics.GzipSidecar {
		sidecarPath := cfg.Diagnostics.DumpPath + ".gz"
		gf, err := os.Create(sidecarPath)
		if err != nil {
			return fmt.Errorf("creating gzip sidecar: %w", err)
		}
		defer gf.Close()
		if err := diag.WriteGzipSidecar(gf, all); err != nil {
			return fmt.Errorf("writing gzip sidecar: %w", err)
		}
	}

	return nil
}

func uploadToSink(ctx context.Context, cfg *config.Config, outPath string, logger *slog.Logger) error {
	s3sink, err := sink.NewS3Sink(ctx, sink.Options{
		Region:          cfg.Sink.Region,
		Bucket:          cfg.Sink.Bucket,
		Prefix:          cfg.Sink.Prefix,
		Endpoint:        cfg.Sink.Endpoint,
		AccessKeyID:     cfg.Sink.AccessKeyID,
		SecretAccessKey: cfg.Sink.SecretAccessKey,
	})
	if err != nil {
		return fmt.Errorf("building s3 sink: %w", err)
	}
	key, err := s3sink.Upload(ctx, outPath)
	if err != nil {
		return err
	}
	logger.Info("uploaded output to s3", "bucket", cfg.Sink.Bucket, "key", key)
	return nil
}
