// Package metrics maintains the gateway's in-memory execution counters,
// duration and process-sample vectors with percentiles, and a bounded
// ring of recent execution records for event replay. A Prometheus
// collector mirrors the counters for the operator sidecar.
package metrics

import (
	"sync"
	"time"

	"github.com/rcourtman/shellgate/internal/buffer"
	"github.com/rcourtman/shellgate/internal/classify"
)

const defaultRingSize = 1000

// Record is the per-execution sample handed to the registry once the
// execution has been finalized.
type Record struct {
	ID                string         `json:"id"`
	Timestamp         time.Time      `json:"timestamp"`
	Level             classify.Level `json:"level"`
	Blocked           bool           `json:"blocked"`
	Truncated         bool           `json:"truncated"`
	TimedOut          bool           `json:"timedOut"`
	TerminationReason string         `json:"terminationReason"`
	ExitCode          *int           `json:"exitCode,omitempty"`
	DurationMs        int64          `json:"durationMs"`
	Preview           string         `json:"preview"`
	Confirmed         bool           `json:"confirmed"`
	PsCPUSec          *float64       `json:"psCpuSec,omitempty"`
	PsWSMB            *float64       `json:"psWsMb,omitempty"`
}

// Snapshot is the point-in-time view returned by server_stats.
type Snapshot struct {
	Total                int                    `json:"total"`
	ByLevel              map[classify.Level]int `json:"byLevel"`
	Blocked              int                    `json:"blocked"`
	Truncated            int                    `json:"truncated"`
	Timeouts             int                    `json:"timeouts"`
	ConfirmationRequired int                    `json:"confirmationRequired"`
	AverageDurationMs    float64                `json:"averageDurationMs"`
	P95DurationMs        int64                  `json:"p95DurationMs"`
	DurationSamples      int                    `json:"durationSamples"`
	PsCPUMeanSec         float64                `json:"psCpuMeanSec"`
	PsCPUP95Sec          float64                `json:"psCpuP95Sec"`
	PsWSMeanMB           float64                `json:"psWsMeanMb"`
	PsWSP95MB            float64                `json:"psWsP95Mb"`
	PsSamples            int                    `json:"psSamples"`
	LastReset            time.Time              `json:"lastReset"`
}

// Registry aggregates execution outcomes. All methods are safe for
// concurrent use.
type Registry struct {
	mu sync.Mutex

	total                int
	byLevel              map[classify.Level]int
	blocked              int
	truncated            int
	timeouts             int
	confirmationRequired int

	durations []int64
	psCPU     []float64
	psWS      []float64

	recent    *buffer.Ring[Record]
	lastReset time.Time

	prom *promMirror
}

// NewRegistry creates an empty registry with the default replay ring size.
func NewRegistry() *Registry {
	return &Registry{
		byLevel:   make(map[classify.Level]int),
		recent:    buffer.NewRing[Record](defaultRingSize),
		lastReset: time.Now(),
	}
}

// Record folds one finalized execution into the counters, including the
// timeout counter for TimedOut records; there is no separate timeout
// increment. Only non-zero durations feed the duration vector, so blocked
// and confirmation attempts never pollute the percentiles.
func (r *Registry) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	r.byLevel[rec.Level]++
	if rec.Blocked {
		r.blocked++
	}
	if rec.Truncated {
		r.truncated++
	}
	if rec.TimedOut {
		r.timeouts++
	}
	if rec.DurationMs > 0 {
		r.durations = append(r.durations, rec.DurationMs)
	}
	if rec.PsCPUSec != nil {
		r.psCPU = append(r.psCPU, *rec.PsCPUSec)
	}
	if rec.PsWSMB != nil {
		r.psWS = append(r.psWS, *rec.PsWSMB)
	}
	r.recent.Push(rec)

	if r.prom != nil {
		r.prom.observe(rec)
	}
}

// IncrementConfirmationRequired counts an attempt refused for lack of the
// confirmation flag.
func (r *Registry) IncrementConfirmationRequired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmationRequired++
	if r.prom != nil {
		r.prom.confirmationRequired.Inc()
	}
}

// Snapshot returns the current aggregates; when reset is true the
// counters are zeroed after the snapshot is taken.
func (r *Registry) Snapshot(reset bool) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Total:                r.total,
		ByLevel:              make(map[classify.Level]int, len(r.byLevel)),
		Blocked:              r.blocked,
		Truncated:            r.truncated,
		Timeouts:             r.timeouts,
		ConfirmationRequired: r.confirmationRequired,
		DurationSamples:      len(r.durations),
		PsSamples:            len(r.psCPU),
		LastReset:            r.lastReset,
	}
	for _, level := range classify.Levels {
		snap.ByLevel[level] = r.byLevel[level]
	}
	snap.AverageDurationMs = meanInt64(r.durations)
	snap.P95DurationMs = p95Int64(r.durations)
	snap.PsCPUMeanSec = meanFloat(r.psCPU)
	snap.PsCPUP95Sec = p95Float(r.psCPU)
	snap.PsWSMeanMB = meanFloat(r.psWS)
	snap.PsWSP95MB = p95Float(r.psWS)

	if reset {
		r.resetLocked()
	}
	return snap
}

// Reset zeroes every counter and sample vector.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Registry) resetLocked() {
	r.total = 0
	r.byLevel = make(map[classify.Level]int)
	r.blocked = 0
	r.truncated = 0
	r.timeouts = 0
	r.confirmationRequired = 0
	r.durations = nil
	r.psCPU = nil
	r.psWS = nil
	r.recent.Clear()
	r.lastReset = time.Now()
}

// Recent returns up to n of the newest execution records, oldest first.
func (r *Registry) Recent(n int) []Record {
	return r.recent.Last(n)
}
