package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MetricsSentinel is the fixed marker the wrapper appends as the final
// stdout line when process-metrics capture is enabled. It is stripped
// before stdout reaches the caller.
const MetricsSentinel = "__MCP_PSMETRICS__"

// selfDestructLead is how far before the effective deadline the in-shell
// timer fires, leaving the parent room to read the exit.
const selfDestructLead = 300 * time.Millisecond

// wrapOptions controls what the wrapper prepends and appends.
type wrapOptions struct {
	timeout             time.Duration
	disableSelfDestruct bool
	captureMetrics      bool
}

// wrapCommand builds the script actually handed to the shell: progress
// suppression, strict mode, the optional self-destruct timer, the user
// command, and the optional metrics sentinel.
func wrapCommand(command string, opts wrapOptions) string {
	var b strings.Builder
	b.WriteString("$ProgressPreference='SilentlyContinue'\n")
	b.WriteString("Set-StrictMode -Version Latest\n")

	if !opts.disableSelfDestruct && opts.timeout > 0 {
		fireAt := opts.timeout - selfDestructLead
		if fireAt < selfDestructLead {
			fireAt = selfDestructLead
		}
		fmt.Fprintf(&b,
			"$null=[System.Threading.Timer]::new({[System.Environment]::Exit(%d)},$null,%d,-1)\n",
			selfDestructExitCode, fireAt.Milliseconds())
	}

	b.WriteString(command)
	b.WriteString("\n")

	if opts.captureMetrics {
		b.WriteString("$__sgp=[System.Diagnostics.Process]::GetCurrentProcess()\n")
		b.WriteString(`Write-Output ("` + MetricsSentinel +
			`{0},{1}" -f $__sgp.TotalProcessorTime.TotalSeconds,[math]::Round($__sgp.WorkingSet64/1MB,2))` + "\n")
	}
	return b.String()
}

// stripSentinel searches the tail of stdout for the metrics sentinel,
// removes it, and parses the sample. A malformed sentinel is discarded
// silently; it is never part of the user contract.
func stripSentinel(stdout string) (string, *float64, *float64) {
	idx := strings.LastIndex(stdout, MetricsSentinel)
	if idx == -1 {
		return stdout, nil, nil
	}

	// Remove exactly the sentinel's own line, including its trailing
	// newline; any newline before idx belongs to the user's output.
	lineEnd := strings.IndexByte(stdout[idx:], '\n')
	var rest string
	if lineEnd == -1 {
		rest = stdout[:idx]
	} else {
		rest = stdout[:idx] + stdout[idx+lineEnd+1:]
	}

	payload := stdout[idx+len(MetricsSentinel):]
	if lineEnd != -1 {
		payload = stdout[idx+len(MetricsSentinel) : idx+lineEnd]
	}
	payload = strings.TrimSpace(payload)

	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return rest, nil, nil
	}
	cpu, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	ws, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return rest, nil, nil
	}
	return rest, &cpu, &ws
}
