package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rcourtman/shellgate/internal/executor"
)

// syntaxTimeoutSec bounds the parse-only invocation; parsing never runs
// the script, so this only guards against a wedged shell.
const syntaxTimeoutSec = 15

// SyntaxIssue is one parser diagnostic.
type SyntaxIssue struct {
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

// SyntaxResult is the check_syntax tool output.
type SyntaxResult struct {
	OK         bool          `json:"ok"`
	Issues     []SyntaxIssue `json:"issues"`
	Parser     string        `json:"parser"`
	DurationMs int64         `json:"durationMs"`
}

// SyntaxArgs are the check_syntax tool arguments; exactly one of Script
// and FilePath must be set.
type SyntaxArgs struct {
	Script   string `json:"script,omitempty"`
	FilePath string `json:"filePath,omitempty"`
}

// CheckSyntax parses a script with the shell's own language parser without
// executing it.
func (p *Pipeline) CheckSyntax(ctx context.Context, session Session, args SyntaxArgs) (*SyntaxResult, error) {
	if err := p.authenticate(session); err != nil {
		return nil, err
	}
	if (args.Script == "") == (args.FilePath == "") {
		return nil, errf(KindInvalidArgument, "provide exactly one of script or filePath")
	}

	var parse string
	if args.Script != "" {
		parse = fmt.Sprintf(
			"[void][System.Management.Automation.Language.Parser]::ParseInput(%s,[ref]$null,[ref]$errs)",
			psQuote(args.Script))
	} else {
		parse = fmt.Sprintf(
			"[void][System.Management.Automation.Language.Parser]::ParseFile(%s,[ref]$null,[ref]$errs)",
			psQuote(args.FilePath))
	}

	script := strings.Join([]string{
		"$errs=$null",
		parse,
		"$issues=@($errs | ForEach-Object { @{message=$_.Message; line=$_.Extent.StartLineNumber; column=$_.Extent.StartColumnNumber} })",
		"@{ok=($issues.Count -eq 0); issues=$issues} | ConvertTo-Json -Depth 5 -Compress",
	}, "\n")

	started := time.Now()
	result, err := p.cfg.Runner.Execute(ctx, executor.Request{
		Command:   script,
		TimeoutMs: syntaxTimeoutSec * 1000,
	})
	if err != nil {
		return nil, errf(KindInternal, "syntax check failed: %v", err)
	}

	var parsed struct {
		OK     bool          `json:"ok"`
		Issues []SyntaxIssue `json:"issues"`
	}
	payload := strings.TrimSpace(result.Stdout)
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, errf(KindInternal, "syntax check produced unparseable output: %v", err)
	}

	if parsed.Issues == nil {
		parsed.Issues = []SyntaxIssue{}
	}
	return &SyntaxResult{
		OK:         parsed.OK,
		Issues:     parsed.Issues,
		Parser:     result.ShellPath,
		DurationMs: time.Since(started).Milliseconds(),
	}, nil
}

// psQuote renders s as a single-quoted literal; single quotes double
// inside.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
