package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rcourtman/shellgate/internal/learning"
	"github.com/rcourtman/shellgate/internal/pathpolicy"
	"github.com/rcourtman/shellgate/internal/pipeline"
	"github.com/rcourtman/shellgate/pkg/audit"
)

// Canonical tool names. Hyphenated spellings are accepted as aliases.
const (
	toolExecuteCommand   = "execute_command"
	toolCheckSyntax      = "check_syntax"
	toolWorkingDirPolicy = "working_directory_policy"
	toolServerStats      = "server_stats"
	toolThreatAnalysis   = "threat_analysis"
	toolLearn            = "learn"
	toolCaptureSample    = "capture_sample"
)

// normalizeToolName folds hyphenated aliases onto the canonical names.
func normalizeToolName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

func toolDescriptors() []toolDescriptor {
	obj := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	str := map[string]any{"type": "string"}
	boolean := map[string]any{"type": "boolean"}
	integer := map[string]any{"type": "integer"}

	return []toolDescriptor{
		{
			Name:        toolExecuteCommand,
			Description: "Run one shell command through classification, confirmation, and timeout policy.",
			InputSchema: obj(map[string]any{
				"command":          str,
				"confirmed":        boolean,
				"workingDirectory": str,
				"timeoutSeconds":   integer,
				"overflowStrategy": str,
				"adaptive": obj(map[string]any{
					"extendWindowMs": integer,
					"extendStepMs":   integer,
					"maxTotalSec":    integer,
				}),
			}, "command"),
		},
		{
			Name:        toolCheckSyntax,
			Description: "Parse a script with the shell's language parser without executing it.",
			InputSchema: obj(map[string]any{"script": str, "filePath": str}),
		},
		{
			Name:        toolWorkingDirPolicy,
			Description: "Read or replace the working-directory allow-list policy.",
			InputSchema: obj(map[string]any{
				"action":       map[string]any{"type": "string", "enum": []string{"get", "set"}},
				"enabled":      boolean,
				"allowedRoots": map[string]any{"type": "array", "items": str},
			}, "action"),
		},
		{
			Name:        toolServerStats,
			Description: "Fetch the metrics snapshot; verbose adds recent executions and level counts.",
			InputSchema: obj(map[string]any{"verbose": boolean}),
		},
		{
			Name:        toolThreatAnalysis,
			Description: "Aggregate statistics over commands no pattern classified.",
			InputSchema: obj(map[string]any{"limit": integer}),
		},
		{
			Name:        toolLearn,
			Description: "Inspect, queue, approve, or remove learned-safe pattern candidates.",
			InputSchema: obj(map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": []string{"list", "recommend", "queue", "approve", "remove"},
				},
				"limit":      integer,
				"minCount":   integer,
				"normalized": map[string]any{"type": "array", "items": str},
			}, "action"),
		},
		{
			Name:        toolCaptureSample,
			Description: "Force one host and process metrics sample.",
			InputSchema: obj(map[string]any{}),
		},
	}
}

func (s *Server) callTool(ctx context.Context, params callParams) *toolResult {
	var envelope metaEnvelope
	if len(params.Arguments) > 0 {
		// A malformed _meta block falls through to an empty key, which
		// fails authentication when a key is configured.
		_ = json.Unmarshal(params.Arguments, &envelope)
	}
	session := pipeline.Session{ID: envelope.Meta.SessionID, AuthKey: envelope.Meta.AuthKey}
	if session.ID == "" {
		session.ID = "stdio"
	}

	name := normalizeToolName(params.Name)
	switch name {
	case toolExecuteCommand:
		return s.handleExecute(ctx, session, params.Arguments)
	case toolCheckSyntax:
		return s.handleCheckSyntax(ctx, session, params.Arguments)
	}

	// The remaining tools authenticate here; execute/check_syntax do so
	// inside the pipeline where failures are audited alongside the rest
	// of the gate order.
	if s.deps.Auth.Enabled() && !s.deps.Auth.Verify(session.AuthKey) {
		if s.deps.Audit != nil {
			s.deps.Audit.Record(audit.LevelWarn, audit.CategoryAuthFailed,
				"Authentication failed", map[string]any{"tool": name, "session": session.ID})
		}
		return errorResult(pipeline.KindUnauthorized, "missing or invalid auth key")
	}

	switch name {
	case toolWorkingDirPolicy:
		return s.handleWorkingDirPolicy(params.Arguments)
	case toolServerStats:
		return s.handleServerStats(params.Arguments)
	case toolThreatAnalysis:
		return s.handleThreatAnalysis(params.Arguments)
	case toolLearn:
		return s.handleLearn(session, params.Arguments)
	case toolCaptureSample:
		return s.handleCaptureSample(ctx)
	default:
		return errorResult(pipeline.KindInvalidArgument, "unknown tool: "+params.Name)
	}
}

func (s *Server) handleExecute(ctx context.Context, session pipeline.Session, raw json.RawMessage) *toolResult {
	var args pipeline.ExecuteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(pipeline.KindInvalidArgument, fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Command) == "" {
		return errorResult(pipeline.KindInvalidArgument, "command is required")
	}

	res, err := s.deps.Pipeline.Execute(ctx, session, args)
	if err != nil {
		return errorResult(pipeline.KindOf(err), err.Error())
	}
	return textResult(res.Summary, res)
}

func (s *Server) handleCheckSyntax(ctx context.Context, session pipeline.Session, raw json.RawMessage) *toolResult {
	var args pipeline.SyntaxArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(pipeline.KindInvalidArgument, fmt.Sprintf("invalid arguments: %v", err))
	}
	res, err := s.deps.Pipeline.CheckSyntax(ctx, session, args)
	if err != nil {
		return errorResult(pipeline.KindOf(err), err.Error())
	}
	text := "syntax ok"
	if !res.OK {
		text = fmt.Sprintf("%d syntax issue(s)", len(res.Issues))
	}
	return textResult(text, res)
}

func (s *Server) handleWorkingDirPolicy(raw json.RawMessage) *toolResult {
	var args struct {
		Action       string    `json:"action"`
		Enabled      *bool     `json:"enabled,omitempty"`
		AllowedRoots *[]string `json:"allowedRoots,omitempty"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(pipeline.KindInvalidArgument, fmt.Sprintf("invalid arguments: %v", err))
	}

	switch args.Action {
	case "get":
	case "set":
		current := s.deps.Paths.Get()
		next := pathpolicy.Policy{
			Enforced:     current.Enforced,
			AllowedRoots: current.AllowedRoots,
		}
		if args.Enabled != nil {
			next.Enforced = *args.Enabled
		}
		if args.AllowedRoots != nil {
			next.AllowedRoots = *args.AllowedRoots
		}
		s.deps.Paths.Set(next)
	default:
		return errorResult(pipeline.KindInvalidArgument, `action must be "get" or "set"`)
	}

	policy := s.deps.Paths.Get()
	return textResult(fmt.Sprintf("path policy enforced=%t roots=%d",
		policy.Enforced, len(policy.AllowedRoots)), policy)
}

func (s *Server) handleServerStats(raw json.RawMessage) *toolResult {
	var args struct {
		Verbose bool `json:"verbose"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}

	snap := s.deps.Metrics.Snapshot(false)
	payload := map[string]any{"snapshot": snap}
	if args.Verbose {
		payload["recent"] = s.deps.Metrics.Recent(20)
		if s.deps.History != nil {
			if counts, err := s.deps.History.LevelCountsSince(time.Now().Add(-24 * time.Hour)); err == nil {
				payload["levelCounts24h"] = counts
			}
		}
	}
	return textResult(fmt.Sprintf("%d executions, %d blocked, %d timeouts",
		snap.Total, snap.Blocked, snap.Timeouts), payload)
}

func (s *Server) handleThreatAnalysis(raw json.RawMessage) *toolResult {
	var args struct {
		Limit int `json:"limit"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &args)
	}
	if args.Limit <= 0 {
		args.Limit = 10
	}

	candidates, err := s.deps.Journal.Aggregate()
	if err != nil {
		return errorResult(pipeline.KindInternal, fmt.Sprintf("aggregate unknown commands: %v", err))
	}

	total := 0
	for _, c := range candidates {
		total += c.Count
	}
	top := make([]UnknownStat, 0, args.Limit)
	for _, c := range candidates {
		if len(top) == args.Limit {
			break
		}
		top = append(top, UnknownStat{
			Normalized: c.Normalized,
			Count:      c.Count,
			Sessions:   c.DistinctSessions,
		})
	}

	payload := map[string]any{
		"totalUnknown":    total,
		"distinctUnknown": len(candidates),
		"top":             top,
	}
	return textResult(fmt.Sprintf("%d unknown sightings across %d distinct commands",
		total, len(candidates)), payload)
}

func (s *Server) handleLearn(session pipeline.Session, raw json.RawMessage) *toolResult {
	var args struct {
		Action     string   `json:"action"`
		Limit      int      `json:"limit"`
		MinCount   int      `json:"minCount"`
		Normalized []string `json:"normalized"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult(pipeline.KindInvalidArgument, fmt.Sprintf("invalid arguments: %v", err))
	}

	switch args.Action {
	case "list":
		queue := s.deps.Learning.ListQueue()
		approved := s.deps.Learning.Approved()
		return textResult(fmt.Sprintf("%d queued, %d approved", len(queue), len(approved)),
			map[string]any{"queue": queue, "approved": approved})

	case "recommend":
		recs, err := s.deps.Journal.Recommend(args.Limit, args.MinCount)
		if err != nil {
			return errorResult(pipeline.KindInternal, fmt.Sprintf("recommend: %v", err))
		}
		if recs == nil {
			recs = []learning.Recommendation{}
		}
		return textResult(fmt.Sprintf("%d recommendations", len(recs)),
			map[string]any{"recommendations": recs})

	case "queue":
		if len(args.Normalized) == 0 {
			return errorResult(pipeline.KindInvalidArgument, "normalized[] is required for queue")
		}
		entries := s.deps.Learning.Queue(args.Normalized, "operator")
		return textResult(fmt.Sprintf("queued %d entries", len(entries)),
			map[string]any{"queue": entries})

	case "approve":
		if len(args.Normalized) == 0 {
			return errorResult(pipeline.KindInvalidArgument, "normalized[] is required for approve")
		}
		approved, err := s.deps.Learning.Approve(args.Normalized, session.ID)
		if err != nil {
			return errorResult(pipeline.KindInternal, fmt.Sprintf("approve: %v", err))
		}
		return textResult(fmt.Sprintf("approved %d patterns", len(approved)),
			map[string]any{"approved": approved})

	case "remove":
		if len(args.Normalized) == 0 {
			return errorResult(pipeline.KindInvalidArgument, "normalized[] is required for remove")
		}
		removed := s.deps.Learning.RemoveFromQueue(args.Normalized)
		return textResult(fmt.Sprintf("removed %d entries", removed),
			map[string]any{"removed": removed})

	default:
		return errorResult(pipeline.KindInvalidArgument,
			`action must be one of "list", "recommend", "queue", "approve", "remove"`)
	}
}

func (s *Server) handleCaptureSample(ctx context.Context) *toolResult {
	if s.deps.Sampler == nil {
		return errorResult(pipeline.KindInvalidArgument, "metrics sampling is disabled")
	}
	sample, err := s.deps.Sampler(ctx)
	if err != nil {
		return errorResult(pipeline.KindInternal, fmt.Sprintf("capture sample: %v", err))
	}
	return textResult("sample captured", sample)
}
