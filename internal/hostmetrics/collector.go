// Package hostmetrics produces the on-demand sample behind the
// capture_sample tool: host CPU, load, and memory plus this process's own
// CPU time and resident set.
package hostmetrics

import (
	"context"
	"fmt"
	"os"
	"time"

	gocpu "github.com/shirou/gopsutil/v4/cpu"
	goload "github.com/shirou/gopsutil/v4/load"
	gomem "github.com/shirou/gopsutil/v4/mem"
	goproc "github.com/shirou/gopsutil/v4/process"
)

// System call wrappers for testing.
var (
	cpuCounts     = gocpu.CountsWithContext
	cpuPercent    = gocpu.PercentWithContext
	loadAvg       = goload.AvgWithContext
	virtualMemory = gomem.VirtualMemoryWithContext
	newProcess    = goproc.NewProcessWithContext
)

const collectTimeout = 10 * time.Second

// Sample is one point-in-time utilisation reading.
type Sample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUUsagePercent float64   `json:"cpuUsagePercent"`
	CPUCount        int       `json:"cpuCount"`
	LoadAverage     []float64 `json:"loadAverage,omitempty"`

	MemoryTotalBytes int64   `json:"memoryTotalBytes"`
	MemoryUsedBytes  int64   `json:"memoryUsedBytes"`
	MemoryUsage      float64 `json:"memoryUsage"`

	SelfCPUSeconds float64 `json:"selfCpuSeconds"`
	SelfRSSMB      float64 `json:"selfRssMb"`
}

// Collect gathers one sample. Host readings that fail are left at their
// zero values; memory stats failing is an error because the sample would
// be useless without them.
func Collect(ctx context.Context) (*Sample, error) {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	sample := &Sample{Timestamp: time.Now()}

	if count, err := cpuCounts(collectCtx, true); err == nil {
		sample.CPUCount = count
	}
	if percents, err := cpuPercent(collectCtx, 0, false); err == nil && len(percents) > 0 {
		sample.CPUUsagePercent = percents[0]
	}
	if avg, err := loadAvg(collectCtx); err == nil && avg != nil {
		sample.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	memStats, err := virtualMemory(collectCtx)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}
	sample.MemoryTotalBytes = int64(memStats.Total)
	sample.MemoryUsedBytes = int64(memStats.Used)
	sample.MemoryUsage = memStats.UsedPercent

	if proc, err := newProcess(collectCtx, int32(os.Getpid())); err == nil {
		if times, err := proc.TimesWithContext(collectCtx); err == nil {
			sample.SelfCPUSeconds = times.User + times.System
		}
		if mem, err := proc.MemoryInfoWithContext(collectCtx); err == nil && mem != nil {
			sample.SelfRSSMB = float64(mem.RSS) / (1024 * 1024)
		}
	}

	return sample, nil
}
