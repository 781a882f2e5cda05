package executor

// Termination reasons assigned by the finalization gate.
const (
	ReasonCompleted = "completed"
	ReasonTimeout   = "timeout"
	ReasonOverflow  = "overflow"
	ReasonKilled    = "killed"
)

// selfDestructExitCode is the exit code the in-shell self-destruct timer
// uses; the finalization gate treats it as a timeout even when no
// external timer fired.
const selfDestructExitCode = 124

// Result is the immutable outcome of one execution. The finalization
// gate populates TerminationReason exactly once; after Execute returns
// the result is never mutated.
type Result struct {
	Success  bool   `json:"success"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`

	DurationMs          int64 `json:"durationMs"`
	ConfiguredTimeoutMs int64 `json:"configuredTimeoutMs"`
	EffectiveTimeoutMs  int64 `json:"effectiveTimeoutMs"`
	AdaptiveExtensions  int   `json:"adaptiveExtensions"`
	AdaptiveMaxTotalMs  int64 `json:"adaptiveMaxTotalMs,omitempty"`

	TerminationReason string `json:"terminationReason"`
	TimedOut          bool   `json:"timedOut"`
	Overflow          bool   `json:"overflow"`
	Truncated         bool   `json:"truncated"`
	TotalBytes        int64  `json:"totalBytes"`

	InternalSelfDestruct bool `json:"internalSelfDestruct"`
	WatchdogTriggered    bool `json:"watchdogTriggered"`
	KillEscalated        bool `json:"killEscalated"`
	KillTreeAttempted    bool `json:"killTreeAttempted"`

	PsCPUSec *float64 `json:"psCpuSec,omitempty"`
	PsWSMB   *float64 `json:"psWsMb,omitempty"`

	ShellPath     string   `json:"shellPath"`
	ShellAttempts []string `json:"shellAttempts,omitempty"`
}

// deriveTerminationReason applies the single precedence rule for the
// canonical end state: timeout, then overflow, then non-zero exit.
func deriveTerminationReason(timedOut, overflow bool, exitCode *int) string {
	switch {
	case timedOut:
		return ReasonTimeout
	case overflow:
		return ReasonOverflow
	case exitCode != nil && *exitCode != 0:
		return ReasonKilled
	default:
		return ReasonCompleted
	}
}
