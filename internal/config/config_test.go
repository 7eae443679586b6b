// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flvcap.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefault_CoreTunables(t *testing.T) {
	cfg := Default()
	if cfg.RTMP.DefaultChunkSize != 128 {
		t.Errorf("expected default_chunk_size 128, got %d", cfg.RTMP.DefaultChunkSize)
	}
	if cfg.RTMP.MaxRoutingID != 16 {
		t.Errorf("expected max_routing_id 16, got %d", cfg.RTMP.MaxRoutingID)
	}
	if cfg.Reassembly.IgnoreMissing {
		t.Error("expected ignore_missing false by default (strict)")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoad_OverridesCoreTunables(t *testing.T) {
	content := `
reassembly:
  ignore_missing: true
  insert_zeros: true
rtmp:
  default_chunk_size: 4096
  max_routing_id: 32
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Reassembly.IgnoreMissing || !cfg.Reassembly.InsertZeros {
		t.Errorf("expected lenient+zero-fill, got %+v", cfg.Reassembly)
	}
	if cfg.RTMP.DefaultChunkSize != 4096 {
		t.Errorf("expected chunk size 4096, got %d", cfg.RTMP.DefaultChunkSize)
	}
	if cfg.RTMP.MaxRoutingID != 32 {
		t.Errorf("expected max routing id 32, got %d", cfg.RTMP.MaxRoutingID)
	}
}

func TestLoad_BandwidthLimitParsed(t *testing.T) {
	content := `
output:
  bandwidth_limit: "10mb"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output.BandwidthLimitRaw != 10*1024*1024 {
		t.Errorf("expected 10mb in bytes, got %d", cfg.Output.BandwidthLimitRaw)
	}
}

func TestLoad_BandwidthLimitInvalid(t *testing.T) {
	content := `
output:
  bandwidth_limit: "not-a-size"
`
	_, err := Load(writeTempConfig(t, content))
	if err == nil {
		t.Fatal("expected error for invalid bandwidth_limit")
	}
}

func TestLoad_WatchRequiresDirs(t *testing.T) {
	content := `
watch:
  enabled: true
`
	_, err := Load(writeTempConfig(t, content))
	if err == nil {
		t.Fatal("expected error for watch enabled without dir/out_dir")
	}
}

func TestLoad_WatchDefaultsSchedule(t *testing.T) {
	content := `
watch:
  enabled: true
  dir: /tmp/in
  out_dir: /tmp/out
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Watch.Schedule != "@every 1m" {
		t.Errorf("expected default schedule, got %q", cfg.Watch.Schedule)
	}
}

func TestLoad_SinkRequiresBucketAndRegion(t *testing.T) {
	content := `
sink:
  enabled: true
  bucket: ""
  region: ""
`
	_, err := Load(writeTempConfig(t, content))
	if err == nil {
		t.Fatal("expected error for sink enabled without bucket/region")
	}
}

func TestLoad_HealthDefaults(t *testing.T) {
	content := `
health:
  enabled: true
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Health.MinFreeDiskRaw != 500*1024*1024 {
		t.Errorf("expected default min_free_disk 500mb, got %d", cfg.Health.MinFreeDiskRaw)
	}
	if cfg.Health.CheckInterval != 30*time.Second {
		t.Errorf("expected default check_interval 30s, got %v", cfg.Health.CheckInterval)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/flvcap.yaml")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTempConfig(t, "{{invalid yaml}}"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"1b":   1,
		"2kb":  2 * 1024,
		"3mb":  3 * 1024 * 1024,
		"1gb":  1024 * 1024 * 1024,
		"1024": 1024,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	if _, err := ParseByteSize("not-a-size"); err == nil {
		t.Fatal("expected error")
	}
}
