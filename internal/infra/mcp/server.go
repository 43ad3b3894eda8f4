// Package mcp exposes the analysis services as Model Context Protocol tools
// over JSON-RPC 2.0, on HTTP (POST /mcp) or on line-delimited stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bryanwahyu/sans-pilot/internal/middleware"
)

const (
	jsonRPCVersion         = "2.0"
	defaultProtocolVersion = "2025-03-26"
	maxRequestBytes        = 4 * 1024 * 1024
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolObserver records tool call outcomes.
type ToolObserver interface {
	ToolCalled(tool, outcome string)
}

// Server answers MCP requests.
type Server struct {
	name     string
	version  string
	tools    map[string]toolDefinition
	order    []string
	logger   *slog.Logger
	tracer   trace.Tracer
	observer ToolObserver
	// userOf extracts the caller identity from a request context.
	userOf func(context.Context) string
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

func WithToolObserver(o ToolObserver) Option {
	return func(s *Server) { s.observer = o }
}

// WithVersion sets the version reported by initialize.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer builds the server and its tool table.
func NewServer(svc Services, opts ...Option) *Server {
	s := &Server{
		name:    "sans-pilot",
		version: "dev",
		logger:  slog.New(slog.DiscardHandler),
		tracer:  otel.Tracer("github.com/bryanwahyu/sans-pilot/internal/infra/mcp"),
		userOf:  middleware.GetUserFromContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tools, s.order = buildToolRegistry(svc)
	return s
}

// Handle processes one JSON-RPC message. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, raw []byte) *jsonRPCResponse {
	var req jsonRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return &jsonRPCResponse{JSONRPC: jsonRPCVersion, ID: json.RawMessage("null"),
			Error: &rpcError{Code: codeParseError, Message: "parse error"}}
	}
	if len(req.ID) == 0 {
		s.logger.Debug("mcp.notification", "method", req.Method)
		return nil
	}
	resp := s.dispatch(ctx, req)
	return &resp
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	base := jsonRPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID}
	if req.JSONRPC != jsonRPCVersion {
		base.Error = &rpcError{Code: codeInvalidRequest, Message: "jsonrpc must be \"2.0\""}
		return base
	}

	switch req.Method {
	case "initialize":
		var p struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		_ = json.Unmarshal(req.Params, &p)
		version := p.ProtocolVersion
		if version == "" {
			version = defaultProtocolVersion
		}
		base.Result = map[string]any{
			"protocolVersion": version,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		}
	case "ping":
		base.Result = map[string]any{}
	case "tools/list":
		tools := make([]toolDefinition, 0, len(s.order))
		for _, name := range s.order {
			tools = append(tools, s.tools[name])
		}
		base.Result = map[string]any{"tools": tools}
	case "tools/call":
		params, err := parseToolsCallParams(req.Params)
		if err != nil {
			base.Error = &rpcError{Code: codeInvalidParams, Message: err.Error()}
			return base
		}
		base.Result = s.callTool(ctx, params)
	default:
		base.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return base
}

func (s *Server) callTool(ctx context.Context, params toolsCallParams) toolCallResult {
	ctx, span := s.tracer.Start(ctx, "mcp.tools_call", trace.WithAttributes(attribute.String("mcp.tool", params.Name)))
	defer span.End()

	tool, ok := s.tools[params.Name]
	if !ok {
		s.observe(params.Name, "UNKNOWN_TOOL")
		return newToolErrorResult("UNKNOWN_TOOL", fmt.Sprintf("unknown tool: %s", params.Name))
	}

	result, err := tool.handler(ctx, call{user: s.userOf(ctx), args: params.Arguments})
	if err != nil {
		code := errorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		s.logger.Warn("mcp.tool_failed", "tool", params.Name, "code", code,
			"trace_id", span.SpanContext().TraceID().String(), "error", err.Error())
		s.observe(params.Name, code)
		return newToolErrorResult(code, err.Error())
	}
	s.observe(params.Name, "ok")
	return result
}

func (s *Server) observe(tool, outcome string) {
	if s.observer != nil {
		s.observer.ToolCalled(tool, outcome)
	}
}

// ServeHTTP accepts one JSON-RPC message per POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxRequestBytes {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	resp := s.Handle(r.Context(), body)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeStdio reads line-delimited requests from r and writes responses to w
// until r is exhausted or ctx is done. Requests are handled concurrently so
// a long run-analysis does not hold up a ping.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	enc := json.NewEncoder(w)
	write := func(resp *jsonRPCResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("mcp.stdio_write_failed", "error", err.Error())
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := s.Handle(ctx, line); resp != nil {
				write(resp)
			}
		}()
	}
	wg.Wait()
	if err := scanner.Err(); err != nil {
		return err
	}
	return ctx.Err()
}
