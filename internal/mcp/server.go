// Package mcp serves the proxy engine as Model Context Protocol tools over a
// newline-delimited JSON-RPC 2.0 stream (stdio in production).
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shakram02/sqlproxy/internal/proxy"
	"github.com/shakram02/sqlproxy/internal/sqlgen"
)

// Defaults
const (
	DefaultQueryTimeout   = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Logs must not go to the output stream.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTimeouts sets per-call deadlines for statements and connects. Zero
// values keep the defaults.
func WithTimeouts(query, connect time.Duration) Option {
	return func(s *Server) {
		if query > 0 {
			s.queryTimeout = query
		}
		if connect > 0 {
			s.connectTimeout = connect
		}
	}
}

// WithGenerator adds the generate_sql tool.
func WithGenerator(g sqlgen.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server handles MCP requests for one engine.
type Server struct {
	engine         *proxy.Engine
	generator      sqlgen.Generator
	logger         *slog.Logger
	version        string
	queryTimeout   time.Duration
	connectTimeout time.Duration
}

// NewServer builds an MCP server over engine.
func NewServer(engine *proxy.Engine, opts ...Option) *Server {
	s := &Server{
		engine:         engine,
		logger:         slog.New(slog.DiscardHandler),
		version:        "dev",
		queryTimeout:   DefaultQueryTimeout,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads requests from in and writes responses to out until EOF or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	enc := json.NewEncoder(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		response := s.handleMessage(ctx, []byte(line))
		if response != nil {
			if err := enc.Encode(response); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &Error{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	if req.JSONRPC != "2.0" {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    InvalidRequest,
				Message: "Invalid JSON-RPC version",
			},
		}
	}

	return s.handleRequest(ctx, &req)
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	var result any
	var err *Error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "notifications/initialized", "initialized":
		// Notification, no response needed
		return nil
	case "tools/list":
		result, err = s.handleListTools()
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.ID == nil {
			// Unknown notifications are ignored.
			return nil
		}
		err = &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
	}

	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = err
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Invalid initialize parameters",
				Data:    err.Error(),
			}
		}
	}

	s.logger.Info("mcp client initialized", "client", initParams.ClientInfo.Name, "version", initParams.ClientInfo.Version)

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: s.version,
		},
	}, nil
}
