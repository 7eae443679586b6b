// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package health samples host resources around a reconstruction run: a
// pre-flight free-disk check before the FLV writer opens its output file
// (the reassembly buffer is the only unbounded in-memory allocation, but a
// multi-gigabyte capture can still outgrow the destination volume), and
// periodic CPU/memory/disk logging while a long reconstruction runs.
package health

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is one sample of host resource usage.
type Stats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	DiskFreeBytes    uint64
}

// Monitor periodically samples host resources for the duration of a
// reconstruction and logs them through the run's logger. It is adapted from
// the agent-side SystemMonitor: the same collect-on-ticker shape, narrowed
// to the metrics a reconstruction job cares about (no load average, since
// nothing here schedules against it).
type Monitor struct {
	logger   *slog.Logger
	dir      string
	interval time.Duration

	mu    sync.RWMutex
	stats Stats

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates a Monitor that samples usage of the filesystem holding
// dir every interval, logging through logger.
func NewMonitor(logger *slog.Logger, dir string, interval time.Duration) *Monitor {
	return &Monitor{
		logger:   logger.With("component", "health_monitor"),
		dir:      dir,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// CheckFreeDisk returns an error if the filesystem holding dir has less
// than minFreeBytes available. Called once before the FLV writer opens its
// temp file, so a reconstruction fails fast instead of filling the disk
// partway through.
func CheckFreeDisk(dir string, minFreeBytes int64) error {
	if minFreeBytes <= 0 {
		return nil
	}
	u, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("checking free disk space for %s: %w", dir, err)
	}
	if u.Free < uint64(minFreeBytes) {
		return fmt.Errorf("insufficient free disk space in %s: have %d bytes, need %d", dir, u.Free, minFreeBytes)
	}
	return nil
}

// Start begins periodic sampling in the background.
func (m *Monitor) Start() {
	m.collect()
	m.wg.Add(1)
	go m.run()
}

// Stop halts sampling and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Stats returns the most recently collected sample.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var s Stats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if u, err := disk.Usage(m.dir); err == nil {
		s.DiskUsagePercent = u.UsedPercent
		s.DiskFreeBytes = u.Free
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err, "dir", m.dir)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()

	m.logger.Info("resource sample",
		"cpu_percent", s.CPUPercent,
		"memory_percent", s.MemoryPercent,
		"disk_percent", s.DiskUsagePercent,
		"disk_free_bytes", s.DiskFreeBytes,
	)
}
