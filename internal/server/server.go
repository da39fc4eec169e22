// Package server exposes the proxy engine as a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shakram02/sqlproxy/internal/conn"
	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/policy"
	"github.com/shakram02/sqlproxy/internal/proxy"
	"github.com/shakram02/sqlproxy/internal/sqlgen"
)

// Defaults
const (
	DefaultQueryTimeout   = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	maxBodyBytes          = 1 << 20
	shutdownGrace         = 5 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithGenerator enables POST /generate-sql.
func WithGenerator(g sqlgen.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTimeouts sets the per-request deadlines for statements and connects.
// Zero values keep the defaults.
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

// WithAuth requires a valid bearer token on every route but /health.
func WithAuth(cfg AuthConfig) Option {
	return func(s *Server) { s.auth = &cfg }
}

// Server routes HTTP requests to one engine.
type Server struct {
	engine         *proxy.Engine
	generator      sqlgen.Generator
	logger         *slog.Logger
	queryTimeout   time.Duration
	connectTimeout time.Duration
	auth           *AuthConfig
}

// New builds a server over engine.
func New(engine *proxy.Engine, opts ...Option) *Server {
	s := &Server{
		engine:         engine,
		logger:         slog.New(slog.DiscardHandler),
		queryTimeout:   DefaultQueryTimeout,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, authenticated and logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /connect-db", s.handleConnect)
	mux.HandleFunc("POST /disconnect-db", s.handleDisconnect)
	mux.HandleFunc("GET /db-info", s.handleInfo)
	mux.HandleFunc("POST /set-permissions", s.handleSetPermissions)
	mux.HandleFunc("GET /get-permissions", s.handleGetPermissions)
	mux.HandleFunc("POST /execute-sql", s.handleExecute)
	mux.HandleFunc("POST /generate-sql", s.handleGenerate)

	var h http.Handler = mux
	if s.auth != nil {
		h = s.requireToken(h)
	}
	return s.logRequests(h)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

type connectRequest struct {
	DBType           string    `json:"db_type"`
	ConnectionString string    `json:"connection_string"`
	ProjectID        projectID `json:"project_id,omitempty"`
}

type connectionResponse struct {
	Message        string              `json:"message"`
	ConnectionInfo conn.Info           `json:"connection_info"`
	ProjectID      projectID           `json:"project_id,omitempty"`
	Permissions    *policy.Permissions `json:"permissions,omitempty"`
}

type executeRequest struct {
	Query  string `json:"query"`
	DryRun bool   `json:"dry_run"`
}

type generateRequest struct {
	Question string `json:"question"`
	DBSchema string `json:"db_schema,omitempty"`
	DBType   string `json:"db_type,omitempty"`
}

// projectID accepts a JSON string or number.
type projectID string

func (p *projectID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*p = projectID(n.String())
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("project_id must be a string or number")
	}
	*p = projectID(str)
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "SQL proxy API",
		"service": generatorName(s.generator),
		"endpoints": map[string]string{
			"POST /connect-db":      "Connect to a database",
			"POST /disconnect-db":   "Close the active connection",
			"GET /db-info":          "Describe the active connection",
			"POST /set-permissions": "Set write and DDL permissions",
			"GET /get-permissions":  "Show current permissions",
			"POST /execute-sql":     "Execute or dry-run a SQL statement",
			"POST /generate-sql":    "Generate SQL from natural language",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   generatorName(s.generator),
		"connected": s.engine.Status().Connected,
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ConnectionString) == "" {
		s.writeError(w, fmt.Errorf("%w: connection_string is required", dsn.ErrInvalidConnectionString))
		return
	}
	kind, err := dsn.ParseKind(req.DBType)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.connectTimeout)
	defer cancel()

	info, err := s.engine.Connect(ctx, kind, req.ConnectionString)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := connectionResponse{
		Message:        connectMessage(info),
		ConnectionInfo: info,
		ProjectID:      req.ProjectID,
	}
	if req.ProjectID != "" && s.engine.HasPermissionSource() {
		perms, err := s.engine.SyncPermissions(ctx, string(req.ProjectID))
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"detail":          fmt.Sprintf("connected, but failed to load permissions for project %s: %v", req.ProjectID, err),
				"error":           "permission_sync_failed",
				"connection_info": info,
			})
			return
		}
		resp.Permissions = &perms
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	info := s.engine.Disconnect()
	msg := "Disconnected from database"
	if info.Message == conn.MsgAlreadyDisconnected {
		msg = "No active connection"
	}
	writeJSON(w, http.StatusOK, connectionResponse{Message: msg, ConnectionInfo: info})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleSetPermissions(w http.ResponseWriter, r *http.Request) {
	var req policy.Permissions
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.SetPermissions(req.WriteAllowed, req.DDLAllowed))
}

func (s *Server) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetPermissions())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	res, err := s.engine.ExecuteQuery(ctx, req.Query, req.DryRun)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "SQL generation is not configured", Error: "unavailable"})
		return
	}

	var req generateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "question is required", Error: "invalid_request"})
		return
	}

	backend := s.engine.Status().Kind
	if req.DBType != "" {
		kind, err := dsn.ParseKind(req.DBType)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Detail: err.Error(), Error: "invalid_request"})
			return
		}
		backend = kind
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	gen, err := s.generator.GenerateSQL(ctx, sqlgen.Request{
		Question: req.Question,
		Schema:   req.DBSchema,
		Backend:  backend,
	})
	if err != nil {
		s.logger.Warn("sql generation failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Detail: err.Error(), Error: "generation_failed"})
		return
	}
	writeJSON(w, http.StatusOK, gen)
}

// decode reads a JSON body into v, writing a 400 on failure. An empty body
// leaves v at its zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid request body: " + err.Error(), Error: "invalid_request"})
	return false
}

func connectMessage(info conn.Info) string {
	target := info.Kind.DisplayName()
	if info.Message == conn.MsgAlreadyConnected {
		return fmt.Sprintf("Already connected to %s database %s", target, info.Database)
	}
	return fmt.Sprintf("Connected to %s database %s", target, info.Database)
}

func generatorName(g sqlgen.Generator) string {
	switch g.(type) {
	case nil:
		return "none"
	case *sqlgen.OpenAI:
		return "OpenAIService"
	case *sqlgen.Gemini:
		return "GeminiService"
	case sqlgen.Mock:
		return "MockService"
	default:
		return fmt.Sprintf("%T", g)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
