// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command flvcap reconstructs a standalone FLV file from an offline packet
// capture of a one-directional RTMP stream. Argument handling,
// configuration loading, and the optional watch/sink/health features all
// live here, around the reconstruction pipeline in pipeline.go.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/flvcap/internal/config"
	"github.com/nishisan-dev/flvcap/internal/kinderr"
	"github.com/nishisan-dev/flvcap/internal/logging"
	"github.com/nishisan-dev/flvcap/internal/watch"
)

func main() {
	configPath := flag.String("config", "", "path to flvcap YAML config file (optional)")
	ignoreMissing := flag.Bool("ignore-missing", false, "tolerate gaps in the TCP sequence instead of failing")
	insertZeros := flag.Bool("insert-zeros", false, "zero-fill TCP gaps instead of skipping them (requires -ignore-missing)")
	chunkSize := flag.Int("default-chunk-size", 0, "initial RTMP chunk size (0 = use config/default of 128)")
	maxRoutingID := flag.Uint("max-routing-id", 0, "maximum accepted RTMP message stream id (0 = use config/default of 16)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flvcap: loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags take precedence over whatever the config file set, so a
	// one-off override doesn't require editing the file.
	if *ignoreMissing {
		cfg.Reassembly.IgnoreMissing = true
	}
	if *insertZeros {
		cfg.Reassembly.InsertZeros = true
	}
	if *chunkSize > 0 {
		cfg.RTMP.DefaultChunkSize = *chunkSize
	}
	if *maxRoutingID > 0 {
		cfg.RTMP.MaxRoutingID = uint32(*maxRoutingID)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging)
	defer logCloser.Close()

	if cfg.Watch.Enabled {
		runWatch(cfg, logger)
		return
	}

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: flvcap [flags] <input-capture> <output.flv>\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := reconstruct(context.Background(), cfg, args[0], args[1], logger); err != nil {
		printDiagnostic(err)
		os.Exit(1)
	}
}

// runWatch starts the cron-scheduled hot-folder batch mode and blocks
// until SIGINT/SIGTERM, running one reconstruction per discovered capture
// file through the same pipeline a single invocation would use.
func runWatch(cfg *config.Config, logger *slog.Logger) {
	w, err := watch.New(cfg.Watch.Dir, cfg.Watch.OutDir, cfg.Watch.Schedule, func(inPath, outPath string) error {
		return reconstruct(context.Background(), cfg, inPath, outPath, logger)
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flvcap: starting watch mode: %v\n", err)
		os.Exit(1)
	}

	w.Start()
	defer w.Stop(10 * time.Second)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info("flvcap: shutting down")
}

// printDiagnostic prints a single diagnostic line: the error kind and,
// when the failing stage recorded one, the stream position it fired at.
func printDiagnostic(err error) {
	var ke *kinderr.Error
	if errors.As(err, &ke) {
		fmt.Fprintf(os.Stderr, "flvcap: %s\n", ke.Error())
		return
	}
	fmt.Fprintf(os.Stderr, "flvcap: %v\n", err)
}
