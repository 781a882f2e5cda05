// Package executor spawns the shell child process and owns its whole
// lifecycle: adaptive timeout, multi-stage termination, output caps with
// overflow strategies, and the single finalization gate that derives the
// termination reason. The earliest of completion, timeout, overflow, and
// watchdog wins; the others observe "already finalized" and return.
package executor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Overflow strategies.
const (
	OverflowReturn    = "return"
	OverflowTruncate  = "truncate"
	OverflowTerminate = "terminate"
)

const (
	graceMin = 2 * time.Second
	graceMax = 5 * time.Second

	// watchdogSlack past deadline+grace before the backstop fires.
	watchdogSlack = 2 * time.Second
)

// AdaptiveConfig enables deadline extension while the child keeps
// producing output.
type AdaptiveConfig struct {
	ExtendWindowMs int64 `json:"extendWindowMs"`
	ExtendStepMs   int64 `json:"extendStepMs"`
	MaxTotalMs     int64 `json:"maxTotalMs"`
}

// Config carries the executor's process-wide settings.
type Config struct {
	Shell                 string
	ChunkKB               int
	MaxOutputKB           int
	MaxLines              int
	OverflowStrategy      string
	CaptureProcessMetrics bool
	DisableSelfDestruct   bool
}

// Request describes one execution. WorkingDirectory must already have
// passed path policy.
type Request struct {
	Command          string
	TimeoutMs        int64
	WorkingDirectory string
	Adaptive         *AdaptiveConfig
	OverflowStrategy string // per-request override; empty uses Config
}

// Executor runs commands under the configured shell.
type Executor struct {
	cfg Config
}

// New creates an executor.
func New(cfg Config) *Executor {
	if cfg.ChunkKB <= 0 {
		cfg.ChunkKB = 64
	}
	if cfg.OverflowStrategy == "" {
		cfg.OverflowStrategy = OverflowTruncate
	}
	return &Executor{cfg: cfg}
}

// killGrace is the window between SIGTERM and SIGKILL: roughly 10% of the
// timeout, clamped to [2s, 5s].
func killGrace(timeout time.Duration) time.Duration {
	g := timeout / 10
	if g < graceMin {
		g = graceMin
	}
	if g > graceMax {
		g = graceMax
	}
	return g
}

// adaptiveTick is the cadence of the adaptive checker.
func adaptiveTick(extendWindow time.Duration) time.Duration {
	tick := extendWindow / 2
	if tick > time.Second {
		tick = time.Second
	}
	if tick <= 0 {
		tick = time.Second
	}
	return tick
}

// execState is the mutable bookkeeping shared by the monitor, the pumps,
// and the finalization gate.
type execState struct {
	mu sync.Mutex

	deadline           time.Time
	effectiveTimeout   time.Duration
	adaptiveExtensions int

	timedOut          bool
	overflow          bool
	watchdogTriggered bool
	killEscalated     bool
	killTreeAttempted bool
	termSent          bool
}

func (s *execState) getDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Execute runs one command to completion (or termination) and returns its
// finalized result. ctx cancellation terminates the child like a timeout.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("command is empty")
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	strategy := req.OverflowStrategy
	if strategy == "" {
		strategy = e.cfg.OverflowStrategy
	}

	shellPath, attempts := ResolveShell(e.cfg.Shell)
	wrapped := wrapCommand(req.Command, wrapOptions{
		timeout:             timeout,
		disableSelfDestruct: e.cfg.DisableSelfDestruct,
		captureMetrics:      e.cfg.CaptureProcessMetrics,
	})

	cmd := exec.Command(shellPath, "-NoProfile", "-NonInteractive", "-Command", wrapped)
	cmd.Dir = req.WorkingDirectory
	cmd.Stdin = nil
	configureProcAttrs(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	stdout := newOutputCollector(e.cfg.ChunkKB, e.cfg.MaxOutputKB, e.cfg.MaxLines)
	stderr := newOutputCollector(e.cfg.ChunkKB, e.cfg.MaxOutputKB, e.cfg.MaxLines)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", shellPath, err)
	}

	state := &execState{
		deadline:         started.Add(timeout),
		effectiveTimeout: timeout,
	}
	grace := killGrace(timeout)

	result := &Result{
		ConfiguredTimeoutMs: req.TimeoutMs,
		ShellPath:           shellPath,
		ShellAttempts:       attempts,
	}
	if req.Adaptive != nil {
		result.AdaptiveMaxTotalMs = req.Adaptive.MaxTotalMs
	}

	overflowCh := make(chan struct{}, 1)
	signalOverflow := func() {
		select {
		case overflowCh <- struct{}{}:
		default:
		}
	}

	// Stdio pumps.
	var pumps errgroup.Group
	pump := func(r io.Reader, c *outputCollector) func() error {
		return func() error {
			buf := make([]byte, 32*1024)
			for {
				n, err := r.Read(buf)
				if n > 0 {
					if c.Write(buf[:n]) {
						signalOverflow()
					}
				}
				if err != nil {
					if err == io.EOF {
						return nil
					}
					return nil // pipe closed by kill; not an execution error
				}
			}
		}
	}
	pumps.Go(pump(stdoutPipe, stdout))
	pumps.Go(pump(stderrPipe, stderr))

	waitDone := make(chan struct{})
	go func() {
		_ = pumps.Wait()
		// Wait's error overlaps ProcessState (signal deaths, non-zero
		// exits); the exit-code derivation below covers both.
		_ = cmd.Wait()
		close(waitDone)
	}()

	var finalizeOnce sync.Once
	finalized := make(chan struct{})
	finalize := func(exitCode *int) {
		finalizeOnce.Do(func() {
			state.mu.Lock()
			wall := time.Since(started)
			result.EffectiveTimeoutMs = state.effectiveTimeout.Milliseconds()
			result.AdaptiveExtensions = state.adaptiveExtensions
			result.TimedOut = state.timedOut
			result.Overflow = state.overflow
			result.WatchdogTriggered = state.watchdogTriggered
			result.KillEscalated = state.killEscalated
			result.KillTreeAttempted = state.killTreeAttempted
			state.mu.Unlock()

			if exitCode != nil && *exitCode == selfDestructExitCode {
				result.InternalSelfDestruct = true
				result.TimedOut = true
			}
			result.ExitCode = exitCode
			result.TerminationReason = deriveTerminationReason(result.TimedOut, result.Overflow, exitCode)

			out := stdout.String()
			out, cpu, ws := stripSentinel(out)
			result.Stdout = out
			result.PsCPUSec = cpu
			result.PsWSMB = ws
			result.Stderr = stderr.String()
			result.Truncated = stdout.Truncated() || stderr.Truncated()
			result.TotalBytes = stdout.TotalBytes() + stderr.TotalBytes()

			// Any real spawn took time, however little; zero-duration rows
			// would pollute the percentile math downstream.
			result.DurationMs = wall.Milliseconds()
			if result.DurationMs < 1 {
				result.DurationMs = 1
			}
			result.Success = !result.TimedOut && !result.Overflow &&
				exitCode != nil && *exitCode == 0
			close(finalized)
		})
	}

	// Two-stage kill: SIGTERM, then SIGKILL after the grace window.
	startKill := func(markEscalated bool) {
		state.mu.Lock()
		alreadySent := state.termSent
		state.termSent = true
		state.mu.Unlock()
		if alreadySent {
			return
		}
		sendTerm(cmd)
		go func() {
			select {
			case <-waitDone:
			case <-time.After(grace):
				state.mu.Lock()
				if markEscalated {
					state.killEscalated = true
				}
				state.killTreeAttempted = killTree(cmd)
				state.mu.Unlock()
				sendKill(cmd)
			}
		}()
	}

	// Monitor: external timeout, adaptive extension, watchdog.
	go func() {
		var adaptTickCh <-chan time.Time
		if req.Adaptive != nil && req.Adaptive.ExtendWindowMs > 0 {
			ticker := time.NewTicker(adaptiveTick(time.Duration(req.Adaptive.ExtendWindowMs) * time.Millisecond))
			defer ticker.Stop()
			adaptTickCh = ticker.C
		}

		ctxDone := ctx.Done()
		killing := false

		for {
			deadline := state.getDeadline()
			watchdogAt := deadline.Add(grace + watchdogSlack)

			var timeoutCh <-chan time.Time
			if !killing {
				timeoutCh = time.After(time.Until(deadline))
			}

			select {
			case <-waitDone:
				var exitCode *int
				if cmd.ProcessState != nil {
					if code := cmd.ProcessState.ExitCode(); code >= 0 {
						exitCode = &code
					}
					// A negative code means the child died to a signal;
					// surface no exit code at all.
				}
				finalize(exitCode)
				return

			case <-ctxDone:
				ctxDone = nil
				killing = true
				state.mu.Lock()
				state.timedOut = true
				state.mu.Unlock()
				startKill(true)
				// Keep looping; waitDone or the watchdog finalizes.

			case <-adaptTickCh:
				e.maybeExtend(state, req.Adaptive, started, stdout, stderr)

			case <-timeoutCh:
				// The deadline may have moved while we slept.
				if time.Now().Before(state.getDeadline()) {
					continue
				}
				killing = true
				state.mu.Lock()
				state.timedOut = true
				state.mu.Unlock()
				startKill(true)

			case <-time.After(time.Until(watchdogAt)):
				if time.Now().Before(state.getDeadline().Add(grace + watchdogSlack)) {
					continue
				}
				state.mu.Lock()
				state.watchdogTriggered = true
				state.timedOut = true
				state.killTreeAttempted = killTree(cmd)
				state.mu.Unlock()
				sendKill(cmd)
				finalize(nil)
				return
			}
		}
	}()

	// Overflow strategy handler.
	go func() {
		select {
		case <-overflowCh:
		case <-finalized:
			return
		}
		state.mu.Lock()
		state.overflow = true
		state.mu.Unlock()

		switch strategy {
		case OverflowReturn:
			// Respond now with partial output; reap the child in the
			// background.
			finalize(nil)
			startKill(false)
		case OverflowTerminate:
			startKill(false)
		case OverflowTruncate:
			// Collectors already stopped retaining; let the child finish.
		}
	}()

	<-finalized

	log.Debug().
		Str("reason", result.TerminationReason).
		Int64("durationMs", result.DurationMs).
		Int64("bytes", result.TotalBytes).
		Msg("Execution finalized")
	return result, nil
}

// maybeExtend applies the adaptive rule: when the deadline is close, the
// child produced output recently, and the hard total permits, push the
// deadline out one step.
func (e *Executor) maybeExtend(state *execState, cfg *AdaptiveConfig, started time.Time, stdout, stderr *outputCollector) {
	window := time.Duration(cfg.ExtendWindowMs) * time.Millisecond
	step := time.Duration(cfg.ExtendStepMs) * time.Millisecond
	maxTotal := time.Duration(cfg.MaxTotalMs) * time.Millisecond

	now := time.Now()
	lastActivity := stdout.LastActivity()
	if stderrAct := stderr.LastActivity(); stderrAct.After(lastActivity) {
		lastActivity = stderrAct
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.timedOut || state.termSent {
		return
	}
	nearDeadline := state.deadline.Sub(now) <= window
	recentOutput := now.Sub(lastActivity) <= window
	withinBudget := now.Sub(started)+step <= maxTotal
	if nearDeadline && recentOutput && withinBudget {
		state.deadline = state.deadline.Add(step)
		state.effectiveTimeout += step
		state.adaptiveExtensions++
		log.Debug().
			Int("extensions", state.adaptiveExtensions).
			Dur("effective", state.effectiveTimeout).
			Msg("Adaptive timeout extended")
	}
}
