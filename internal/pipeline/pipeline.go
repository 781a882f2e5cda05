// Package pipeline runs each execute_command call through the fixed gate
// order: authenticate, rate-limit, length gate, classify, confirmation,
// timeout normalization, path policy, execution, then the observability
// fan-out (metrics, event, audit, history). The gates short-circuit with
// enumerated error kinds; blocked commands return inline results.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shellgate/internal/auth"
	"github.com/rcourtman/shellgate/internal/classify"
	"github.com/rcourtman/shellgate/internal/events"
	"github.com/rcourtman/shellgate/internal/executor"
	"github.com/rcourtman/shellgate/internal/metrics"
	"github.com/rcourtman/shellgate/internal/pathpolicy"
	"github.com/rcourtman/shellgate/internal/ratelimit"
	"github.com/rcourtman/shellgate/pkg/audit"
)

// Runner executes one command; satisfied by *executor.Executor and by test
// fakes.
type Runner interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// HistoryRecorder persists finished executions. Recording is best-effort;
// a nil recorder disables it.
type HistoryRecorder interface {
	RecordExecution(id string, ts time.Time, level string, rec ExecutionSummary)
}

// ExecutionSummary is the slice of an execution the history store keeps.
type ExecutionSummary struct {
	Preview           string
	DurationMs        int64
	Blocked           bool
	Truncated         bool
	TimedOut          bool
	Confirmed         bool
	TerminationReason string
	ExitCode          *int
	SessionID         string
}

// Config wires the pipeline's collaborators and tunables.
type Config struct {
	Auth       *auth.Authenticator
	Limiter    *ratelimit.Limiter
	Classifier *classify.Classifier
	Paths      *pathpolicy.Store
	Runner     Runner
	Metrics    *metrics.Registry
	Events     *events.Stream
	Audit      *audit.Journal
	History    HistoryRecorder

	MaxCommandChars   int
	DefaultTimeoutSec int
	MaxTimeoutSec     int
	PublishAttempts   bool
}

// Pipeline is safe for concurrent use; every call has its own lifetime.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.DefaultTimeoutSec <= 0 {
		cfg.DefaultTimeoutSec = 60
	}
	if cfg.MaxTimeoutSec <= 0 {
		cfg.MaxTimeoutSec = 1800
	}
	return &Pipeline{cfg: cfg}
}

// Session identifies the caller of one tool call.
type Session struct {
	ID      string
	AuthKey string
}

// AdaptiveArgs mirrors the adaptive block of execute_command arguments.
type AdaptiveArgs struct {
	ExtendWindowMs int64 `json:"extendWindowMs"`
	ExtendStepMs   int64 `json:"extendStepMs"`
	MaxTotalSec    int64 `json:"maxTotalSec"`
}

// ExecuteArgs are the execute_command tool arguments. Timeout and
// TimeoutSec are legacy spellings of TimeoutSeconds; using one appends a
// warning to the result.
type ExecuteArgs struct {
	Command          string        `json:"command"`
	Confirmed        bool          `json:"confirmed"`
	WorkingDirectory string        `json:"workingDirectory,omitempty"`
	TimeoutSeconds   *int          `json:"timeoutSeconds,omitempty"`
	Timeout          *int          `json:"timeout,omitempty"`
	TimeoutSec       *int          `json:"timeoutSec,omitempty"`
	Adaptive         *AdaptiveArgs `json:"adaptive,omitempty"`
	OverflowStrategy string        `json:"overflowStrategy,omitempty"`
}

// ExecuteResult is the structured result of one execute_command call. For
// blocked commands only the assessment and summary are populated.
type ExecuteResult struct {
	ID                 string              `json:"id"`
	Execution          *executor.Result    `json:"execution,omitempty"`
	SecurityAssessment classify.Assessment `json:"securityAssessment"`
	Warnings           []string            `json:"warnings,omitempty"`
	Summary            string              `json:"summary"`
	Blocked            bool                `json:"blocked"`
}

const longTimeoutSec = 60

// Execute runs one command through the full gate order.
func (p *Pipeline) Execute(ctx context.Context, session Session, args ExecuteArgs) (*ExecuteResult, error) {
	if err := p.authenticate(session); err != nil {
		return nil, err
	}
	if err := p.rateLimit(session, args.Command); err != nil {
		return nil, err
	}

	if p.cfg.MaxCommandChars > 0 && len(args.Command) > p.cfg.MaxCommandChars {
		return nil, errf(KindInvalidArgument,
			"command is %d chars, limit is %d", len(args.Command), p.cfg.MaxCommandChars)
	}

	assessment := p.cfg.Classifier.ClassifyForSession(args.Command, session.ID)

	if assessment.Blocked {
		return p.blockedResult(session, args, assessment), nil
	}

	if assessment.RequiresConfirmation && !args.Confirmed {
		p.cfg.Metrics.IncrementConfirmationRequired()
		p.publishAttempt(events.KindAttemptUnconfirm, args, assessment)
		p.auditEntry(audit.LevelWarn, audit.CategoryConfirmRequired,
			"Command requires confirmation", map[string]any{
				"level":   string(assessment.Level),
				"reason":  assessment.Reason,
				"session": session.ID,
			})
		return nil, errf(KindInvalidArgument,
			"%s command requires confirmation; resubmit with confirmed:true (%s)",
			assessment.Level, assessment.Reason)
	}

	timeoutSec, warnings, err := p.normalizeTimeout(args)
	if err != nil {
		return nil, err
	}

	workDir := ""
	if strings.TrimSpace(args.WorkingDirectory) != "" {
		resolved, err := p.cfg.Paths.Resolve(args.WorkingDirectory)
		if err != nil {
			return nil, errf(KindInvalidArgument, "%v", err)
		}
		workDir = resolved
	}

	req := executor.Request{
		Command:          args.Command,
		TimeoutMs:        int64(timeoutSec) * 1000,
		WorkingDirectory: workDir,
		OverflowStrategy: args.OverflowStrategy,
	}
	if args.Adaptive != nil {
		req.Adaptive = &executor.AdaptiveConfig{
			ExtendWindowMs: args.Adaptive.ExtendWindowMs,
			ExtendStepMs:   args.Adaptive.ExtendStepMs,
			MaxTotalMs:     args.Adaptive.MaxTotalSec * 1000,
		}
	}

	result, err := p.cfg.Runner.Execute(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("Execution failed before finalization")
		return nil, errf(KindInternal, "execution failed: %v", err)
	}

	id := ulid.Make().String()
	now := time.Now()

	p.cfg.Metrics.Record(metrics.Record{
		ID:                id,
		Timestamp:         now,
		Level:             assessment.Level,
		Truncated:         result.Truncated,
		TimedOut:          result.TimedOut,
		TerminationReason: result.TerminationReason,
		ExitCode:          result.ExitCode,
		DurationMs:        result.DurationMs,
		Preview:           events.Preview(args.Command),
		Confirmed:         args.Confirmed,
		PsCPUSec:          result.PsCPUSec,
		PsWSMB:            result.PsWSMB,
	})

	p.cfg.Events.Publish(events.Event{
		ID:         id,
		Timestamp:  now,
		Kind:       events.KindExec,
		Level:      string(assessment.Level),
		DurationMs: result.DurationMs,
		Truncated:  result.Truncated,
		TimedOut:   result.TimedOut,
		ExitCode:   result.ExitCode,
		Preview:    args.Command,
		Confirmed:  args.Confirmed,
		ToolName:   "execute_command",
	})

	p.auditEntry(audit.LevelInfo, audit.CategoryExec, "Command executed", map[string]any{
		"level":             string(assessment.Level),
		"reason":            assessment.Reason,
		"durationMs":        result.DurationMs,
		"terminationReason": result.TerminationReason,
		"confirmed":         args.Confirmed,
		"timedOut":          result.TimedOut,
		"truncated":         result.Truncated,
		"session":           session.ID,
	})

	if p.cfg.History != nil {
		p.cfg.History.RecordExecution(id, now, string(assessment.Level), ExecutionSummary{
			Preview:           events.Preview(args.Command),
			DurationMs:        result.DurationMs,
			Truncated:         result.Truncated,
			TimedOut:          result.TimedOut,
			Confirmed:         args.Confirmed,
			TerminationReason: result.TerminationReason,
			ExitCode:          result.ExitCode,
			SessionID:         session.ID,
		})
	}

	return &ExecuteResult{
		ID:                 id,
		Execution:          result,
		SecurityAssessment: assessment,
		Warnings:           warnings,
		Summary:            summarize(assessment, result),
	}, nil
}

func (p *Pipeline) authenticate(session Session) error {
	if !p.cfg.Auth.Enabled() {
		return nil
	}
	if p.cfg.Auth.Verify(session.AuthKey) {
		return nil
	}
	p.auditEntry(audit.LevelWarn, audit.CategoryAuthFailed, "Authentication failed",
		map[string]any{"session": session.ID})
	return errf(KindUnauthorized, "missing or invalid auth key")
}

func (p *Pipeline) rateLimit(session Session, command string) error {
	id := session.ID
	if id == "" {
		id = "default"
	}
	decision := p.cfg.Limiter.Consume(id)
	if decision.Allowed {
		return nil
	}
	p.publishAttempt(events.KindAttemptRateLimit, ExecuteArgs{Command: command}, classify.Assessment{})
	p.auditEntry(audit.LevelWarn, audit.CategoryRateLimitExceeded, "Rate limit exceeded",
		map[string]any{"session": id, "msUntilReset": decision.MsUntilReset})
	return errf(KindRateLimited,
		"rate limit exceeded; retry in %dms", decision.MsUntilReset)
}

// blockedResult is the inline (non-error) response for blocked commands.
// The zero-duration record moves the blocked and level counters without
// feeding the duration percentiles.
func (p *Pipeline) blockedResult(session Session, args ExecuteArgs, assessment classify.Assessment) *ExecuteResult {
	id := ulid.Make().String()
	p.cfg.Metrics.Record(metrics.Record{
		ID:        id,
		Timestamp: time.Now(),
		Level:     assessment.Level,
		Blocked:   true,
		Preview:   events.Preview(args.Command),
		Confirmed: args.Confirmed,
	})
	p.publishAttempt(events.KindAttemptBlocked, args, assessment)
	p.auditEntry(audit.LevelError, audit.CategoryCommandBlocked, "Command blocked",
		map[string]any{
			"level":   string(assessment.Level),
			"reason":  assessment.Reason,
			"session": session.ID,
		})
	return &ExecuteResult{
		ID:                 id,
		SecurityAssessment: assessment,
		Blocked:            true,
		Summary: fmt.Sprintf("[%s] command blocked: %s",
			assessment.Level, assessment.Reason),
	}
}

// publishAttempt emits the zero-duration attempt event so dashboards can
// count refusals without polluting latency statistics.
func (p *Pipeline) publishAttempt(kind string, args ExecuteArgs, assessment classify.Assessment) {
	if !p.cfg.PublishAttempts {
		return
	}
	p.cfg.Events.Publish(events.Event{
		Kind:      kind,
		Level:     string(assessment.Level),
		Blocked:   kind == events.KindAttemptBlocked,
		Preview:   args.Command,
		Confirmed: args.Confirmed,
		ToolName:  "execute_command",
	})
}

func (p *Pipeline) auditEntry(level, category, message string, metadata map[string]any) {
	if p.cfg.Audit == nil {
		return
	}
	p.cfg.Audit.Record(level, category, message, metadata)
}

// normalizeTimeout picks the effective timeout in seconds, accepting the
// legacy field spellings with a warning, applying the default, and
// enforcing the cap.
func (p *Pipeline) normalizeTimeout(args ExecuteArgs) (int, []string, error) {
	var warnings []string
	sec := p.cfg.DefaultTimeoutSec

	switch {
	case args.TimeoutSeconds != nil:
		sec = *args.TimeoutSeconds
	case args.Timeout != nil:
		sec = *args.Timeout
		warnings = append(warnings, `"timeout" is a legacy field; use "timeoutSeconds"`)
	case args.TimeoutSec != nil:
		sec = *args.TimeoutSec
		warnings = append(warnings, `"timeoutSec" is a legacy field; use "timeoutSeconds"`)
	}

	if sec <= 0 {
		return 0, nil, errf(KindInvalidArgument, "timeoutSeconds must be positive, got %d", sec)
	}
	if sec > p.cfg.MaxTimeoutSec {
		return 0, nil, errf(KindInvalidArgument,
			"timeoutSeconds %d exceeds the maximum of %d", sec, p.cfg.MaxTimeoutSec)
	}
	if sec >= longTimeoutSec {
		warnings = append(warnings,
			fmt.Sprintf("timeout of %ds is long; the command will not be interrupted before it elapses", sec))
	}
	return sec, warnings, nil
}

// summarize renders the textual mirror of a finished execution: one
// classification line, then stdout, then stderr when present.
func summarize(assessment classify.Assessment, result *executor.Result) string {
	var b strings.Builder
	exit := "none"
	if result.ExitCode != nil {
		exit = fmt.Sprintf("%d", *result.ExitCode)
	}
	fmt.Fprintf(&b, "[%s] %s in %dms (exit %s)",
		assessment.Level, result.TerminationReason, result.DurationMs, exit)
	if result.Truncated {
		b.WriteString(" [truncated]")
	}
	if out := strings.TrimRight(result.Stdout, "\n"); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	if errOut := strings.TrimRight(result.Stderr, "\n"); errOut != "" {
		b.WriteString("\n--- stderr ---\n")
		b.WriteString(errOut)
	}
	return b.String()
}
