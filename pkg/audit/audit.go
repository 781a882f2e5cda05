// Package audit provides the gateway's append-only audit journal.
//
// Every entry is written twice per calendar day: once pretty-printed for
// humans (audit-YYYY-MM-DD.log) and once as strict single-line NDJSON for
// machines (audit-YYYY-MM-DD.ndjson), and mirrored to the process's
// standard error stream. Write failures are reported on stderr and never
// surfaced to callers: an execution must not fail because a disk filled.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcourtman/shellgate/internal/redact"
)

// Categories recorded by the request pipeline. Stable identifiers: log
// tooling keys off them.
const (
	CategoryAuthFailed        = "AUTH_FAILED"
	CategoryRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CategoryCommandBlocked    = "COMMAND_BLOCKED"
	CategoryConfirmRequired   = "CONFIRMED_REQUIRED"
	CategoryExec              = "POWERSHELL_EXEC"
)

// Severity levels for audit entries.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Metadata string values longer than this are truncated before writing so
// a hostile command cannot amplify itself through the journal.
const maxMetadataChars = 512

const nestedPlaceholder = "[nested]"

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Journal writes entries to the per-day file pair. Safe for concurrent
// use. File handles are re-opened at day boundaries and closed by Close.
type Journal struct {
	mu      sync.Mutex
	dir     string
	day     string
	pretty  *os.File
	machine *os.File
	stderr  io.Writer

	nowFn func() time.Time
}

// NewJournal creates a journal writing under dir.
func NewJournal(dir string) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("logs directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	return &Journal{
		dir:    dir,
		stderr: os.Stderr,
		nowFn:  time.Now,
	}, nil
}

// Record sanitizes and writes one entry. It never returns an error; a
// journal that cannot write complains on stderr and drops the entry.
func (j *Journal) Record(level, category, message string, metadata map[string]any) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: j.nowFn(),
		Level:     level,
		Category:  category,
		Message:   message,
		Metadata:  sanitizeMetadata(metadata),
	}
	j.write(entry)
	return entry
}

func (j *Journal) write(entry Entry) {
	machine, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal entry failed: %v\n", err)
		return
	}
	pretty, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		pretty = machine
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// Mirror every entry to stderr regardless of file state.
	fmt.Fprintf(j.stderr, "[audit] %s\n", machine)

	if err := j.rotateLocked(entry.Timestamp); err != nil {
		fmt.Fprintf(os.Stderr, "audit: open journal files failed: %v\n", err)
		return
	}
	if _, err := j.pretty.Write(append(pretty, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write pretty journal failed: %v\n", err)
	}
	if _, err := j.machine.Write(append(machine, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write ndjson journal failed: %v\n", err)
	}
}

// rotateLocked (re)opens the day's file pair when the calendar day of the
// entry differs from the currently open pair.
func (j *Journal) rotateLocked(ts time.Time) error {
	day := ts.Format("2006-01-02")
	if day == j.day && j.pretty != nil && j.machine != nil {
		return nil
	}
	j.closeLocked()

	pretty, err := os.OpenFile(filepath.Join(j.dir, "audit-"+day+".log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	machine, err := os.OpenFile(filepath.Join(j.dir, "audit-"+day+".ndjson"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		pretty.Close()
		return err
	}
	j.pretty = pretty
	j.machine = machine
	j.day = day
	return nil
}

func (j *Journal) closeLocked() {
	if j.pretty != nil {
		j.pretty.Close()
		j.pretty = nil
	}
	if j.machine != nil {
		j.machine.Close()
		j.machine = nil
	}
	j.day = ""
}

// Close closes the open file pair.
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closeLocked()
}

// sanitizeMetadata truncates long strings, scrubs secrets, and collapses
// nested values to a placeholder so metadata stays flat and bounded.
func sanitizeMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch value := v.(type) {
		case string:
			scrubbed, _ := redact.SensitiveText(value)
			if len(scrubbed) > maxMetadataChars {
				scrubbed = scrubbed[:maxMetadataChars] + "…[truncated]"
			}
			out[k] = scrubbed
		case bool, int, int32, int64, uint, uint32, uint64, float32, float64, nil:
			out[k] = value
		case time.Time:
			out[k] = value.Format(time.RFC3339)
		default:
			out[k] = nestedPlaceholder
		}
	}
	return out
}
