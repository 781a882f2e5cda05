package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/shellgate/internal/auth"
	"github.com/rcourtman/shellgate/internal/learning"
	"github.com/rcourtman/shellgate/internal/metrics"
	"github.com/rcourtman/shellgate/internal/pathpolicy"
	"github.com/rcourtman/shellgate/internal/pipeline"
	"github.com/rcourtman/shellgate/pkg/audit"
)

// maxFrameBytes bounds one inbound line. Commands are already capped well
// below this; anything bigger is protocol misuse.
const maxFrameBytes = 1 << 20

// UnknownStat is one row of the threat_analysis top-N.
type UnknownStat struct {
	Normalized string `json:"normalized"`
	Count      int    `json:"count"`
	Sessions   int    `json:"sessions"`
}

// HistoryAnalytics is the slice of the history store the tool surface
// reads. A nil value degrades server_stats and threat_analysis gracefully.
type HistoryAnalytics interface {
	LevelCountsSince(t time.Time) (map[string]int, error)
}

// Sampler produces one on-demand host/process metrics sample.
type Sampler func(ctx context.Context) (any, error)

// Deps wires the tool handlers to the rest of the process.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Auth     *auth.Authenticator
	Audit    *audit.Journal
	Paths    *pathpolicy.Store
	Metrics  *metrics.Registry
	Learning *learning.Store
	Journal  *learning.Journal
	History  HistoryAnalytics
	Sampler  Sampler

	ServerName string
	Version    string
}

// Server dispatches framed JSON-RPC requests. Each request runs on its own
// goroutine; responses are serialized by the write mutex.
type Server struct {
	deps Deps

	writeMu sync.Mutex
	out     io.Writer
}

// NewServer creates a server over the given output stream.
func NewServer(deps Deps, out io.Writer) *Server {
	return &Server{deps: deps, out: out}
}

// Serve reads frames from in until EOF or ctx cancellation. In-flight
// calls are not cancelled on disconnect; their responses are dropped with
// the closed pipe.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	var wg sync.WaitGroup
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(nil, codeParseError, fmt.Sprintf("parse error: %v", err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatch(ctx, req)
		}()
	}
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frames: %w", err)
	}
	return ctx.Err()
}

func (s *Server) dispatch(ctx context.Context, req request) {
	switch req.Method {
	case "initialize":
		s.writeResult(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: s.deps.ServerName, Version: s.deps.Version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})

	case "notifications/initialized":
		// Notification; nothing to answer.

	case "ping":
		s.writeResult(req.ID, map[string]any{})

	case "tools/list":
		s.writeResult(req.ID, map[string]any{"tools": toolDescriptors()})

	case "tools/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(req.ID, codeInvalidParams, fmt.Sprintf("invalid tools/call params: %v", err))
			return
		}
		result := s.callTool(ctx, params)
		s.writeResult(req.ID, result)

	default:
		if req.ID == nil {
			log.Debug().Str("method", req.Method).Msg("Ignoring unknown notification")
			return
		}
		s.writeError(req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) writeResult(id json.RawMessage, result any) {
	if id == nil {
		return
	}
	s.writeFrame(response{Jsonrpc: jsonrpcVersion, ID: id, Result: result})
}

func (s *Server) writeError(id json.RawMessage, code int, message string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	s.writeFrame(response{
		Jsonrpc: jsonrpcVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func (s *Server) writeFrame(resp response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response frame")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(payload, '\n')); err != nil {
		log.Debug().Err(err).Msg("Failed to write response frame")
	}
}
