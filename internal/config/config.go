// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads flvcap's YAML configuration: the core
// reconstruction tunables (reassembly gap policy, RTMP chunk size and
// stream-id ceiling, output throttle), plus the ambient logging settings
// and the optional watch/sink/health collaborators.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface of the flvcap binary.
// Any field left unset in the YAML file falls back to applyDefaults.
type Config struct {
	Reassembly  ReassemblyConfig  `yaml:"reassembly"`
	RTMP        RTMPConfig        `yaml:"rtmp"`
	Output      OutputConfig      `yaml:"output"`
	Watch       WatchConfig       `yaml:"watch"`
	Sink        SinkConfig        `yaml:"sink"`
	Health      HealthConfig      `yaml:"health"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingInfo       `yaml:"logging"`
}

// ReassemblyConfig controls the TCP Reassembler's gap policy (§4.B).
type ReassemblyConfig struct {
	IgnoreMissing bool `yaml:"ignore_missing"` // true switches the reassembler to lenient
	InsertZeros   bool `yaml:"insert_zeros"`   // lenient only: zero-fill gaps instead of skipping
}

// RTMPConfig controls the chunk-stream decoder's tunables (§4.D).
type RTMPConfig struct {
	DefaultChunkSize int    `yaml:"default_chunk_size"` // initial chunk size, default 128
	MaxRoutingID     uint32 `yaml:"max_routing_id"`     // default 16
}

// OutputConfig controls the FLV writer's output throttling.
type OutputConfig struct {
	BandwidthLimit    string `yaml:"bandwidth_limit"` // e.g. "10mb"; empty = unlimited
	BandwidthLimitRaw int64  `yaml:"-"`
}

// WatchConfig enables cron-scheduled batch processing of a hot folder of
// capture files, each reconstructed independently as if passed on the CLI.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Dir      string `yaml:"dir"`      // directory scanned for new capture files
	OutDir   string `yaml:"out_dir"`  // directory receiving reconstructed FLV files
	Schedule string `yaml:"schedule"` // cron expression, default "@every 1m"
}

// SinkConfig enables uploading a finished FLV file to S3-compatible
// storage once the muxer commits it. Endpoint, AccessKeyID and
// SecretAccessKey are only needed against non-AWS S3-compatible
// endpoints (e.g. MinIO); left empty, the SDK's default credential chain
// and AWS's own endpoints are used.
type SinkConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// HealthConfig enables a pre-flight free-disk check, which fails the run
// before the output file is opened when the volume is short of space, and
// periodic CPU/memory/disk logging during long reconstructions.
type HealthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MinFreeDisk   string        `yaml:"min_free_disk"` // e.g. "500mb"
	MinFreeDiskRaw int64        `yaml:"-"`
	CheckInterval time.Duration `yaml:"check_interval"` // default 30s
}

// DiagnosticsConfig enables the hex/ASCII debug dump collaborator, with an
// optional gzip sidecar of the raw reassembled stream for later replay.
type DiagnosticsConfig struct {
	HexDump     bool   `yaml:"hex_dump"`
	DumpPath    string `yaml:"dump_path"`
	GzipSidecar bool   `yaml:"gzip_sidecar"`
}

// LoggingInfo configures the shared slog logger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	// RunLogDir, when set, gives each reconstruction its own debug-level
	// log file under this directory, named after the run's id. The file
	// is removed after a successful run and left behind after a failed
	// one, for post-mortem inspection.
	RunLogDir string `yaml:"run_log_dir"`
}

// Default returns a Config populated with every built-in default, for
// callers that run with no YAML file at all (flags only).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a YAML configuration file, filling in defaults
// for any field left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.RTMP.DefaultChunkSize <= 0 {
		c.RTMP.DefaultChunkSize = 128
	}
	if c.RTMP.MaxRoutingID == 0 {
		c.RTMP.MaxRoutingID = 16
	}

	if c.Output.BandwidthLimit != "" {
		parsed, err := ParseByteSize(c.Output.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("output.bandwidth_limit: %w", err)
		}
		c.Output.BandwidthLimitRaw = parsed
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Watch.Enabled {
		if c.Watch.Dir == "" {
			return fmt.Errorf("watch.dir is required when watch is enabled")
		}
		if c.Watch.OutDir == "" {
			return fmt.Errorf("watch.out_dir is required when watch is enabled")
		}
		if c.Watch.Schedule == "" {
			c.Watch.Schedule = "@every 1m"
		}
	}

	if c.Sink.Enabled {
		if c.Sink.Bucket == "" {
			return fmt.Errorf("sink.bucket is required when sink is enabled")
		}
		if c.Sink.Region == "" {
			return fmt.Errorf("sink.region is required when sink is enabled")
		}
	}

	if c.Health.Enabled {
		if c.Health.MinFreeDisk == "" {
			c.Health.MinFreeDisk = "500mb"
		}
		parsed, err := ParseByteSize(c.Health.MinFreeDisk)
		if err != nil {
			return fmt.Errorf("health.min_free_disk: %w", err)
		}
		c.Health.MinFreeDiskRaw = parsed
		if c.Health.CheckInterval <= 0 {
			c.Health.CheckInterval = 30 * time.Second
		}
	}

	return nil
}

// ParseByteSize converts human-readable strings like "256mb", "1gb" to a
// byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	// Ordered longest-suffix-first so "mb" never matches as "b".
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
