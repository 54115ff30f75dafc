// Package transport runs an MCP server over stdio or over Streamable HTTP.
//
// The HTTP front door keeps one StreamableServerTransport per session in a
// SessionStore. A POST without a session id that carries an initialize
// request opens a session; every other request must name a live one.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	sessionIDHeader = "Mcp-Session-Id"

	// maxBodySize bounds the initialize body we buffer to sniff the method.
	maxBodySize = 4 << 20

	codeBadRequest    = -32000
	codeInternalError = -32603
)

// ServerFactory returns a fresh MCP server for a new session.
type ServerFactory func() *mcp.Server

// HTTPOptions configures NewHTTPHandler.
type HTTPOptions struct {
	Logger        *zap.Logger
	Authenticated bool          // reported by /health
	Metrics       func() any    // served at /metrics when set
	Sessions      *SessionStore // nil allocates one
}

// HTTPHandler serves /health, /metrics and the /mcp session endpoints.
type HTTPHandler struct {
	newServer     ServerFactory
	sessions      *SessionStore
	logger        *zap.Logger
	authenticated bool
	metrics       func() any

	// Sessions outlive the request that created them.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	handler http.Handler
}

// NewHTTPHandler returns a handler creating one server per session.
func NewHTTPHandler(newServer ServerFactory, opts HTTPOptions) *HTTPHandler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessionStore(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &HTTPHandler{
		newServer:     newServer,
		sessions:      sessions,
		logger:        logger.With(zap.String("component", "http")),
		authenticated: opts.Authenticated,
		metrics:       opts.Metrics,
		baseCtx:       ctx,
		cancel:        cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	if h.metrics != nil {
		mux.HandleFunc("GET /metrics", h.handleMetrics)
	}
	mux.HandleFunc("POST /mcp", h.handlePost)
	mux.HandleFunc("GET /mcp", h.handleStream)
	mux.HandleFunc("DELETE /mcp", h.handleDelete)
	h.handler = cors(mux)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// Sessions exposes the session store.
func (h *HTTPHandler) Sessions() *SessionStore { return h.sessions }

// Shutdown closes every live session, best effort, and waits for their
// watchers to finish or ctx to expire.
func (h *HTTPHandler) Shutdown(ctx context.Context) int {
	n := h.sessions.CloseAll(ctx)
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("session watchers still running at shutdown deadline")
	}
	return n
}

// ─── Endpoints ────────────────────────────────────────────────────────────────

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"authenticated": h.authenticated,
	})
}

func (h *HTTPHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"tools":    h.metrics(),
		"sessions": h.sessions.Len(),
	}
	if t, ok := h.sessions.Oldest(); ok {
		body["oldest_session"] = t.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *HTTPHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionIDHeader)
	if sess, ok := h.sessions.Get(id); ok {
		sess.ServeHTTP(w, r)
		return
	}
	if id != "" {
		h.logger.Debug("request for unknown session", zap.String("session_id", id))
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, "Bad Request: No valid session ID provided")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, "Bad Request: failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, "Bad Request: request body too large")
		return
	}
	if !isInitialize(body) {
		writeRPCError(w, http.StatusBadRequest, codeBadRequest, "Bad Request: No valid session ID provided")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sess, err := h.startSession()
	if err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		writeRPCError(w, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}
	w.Header().Set(sessionIDHeader, sess.ID)
	sess.ServeHTTP(w, r)
}

// handleStream opens the server-to-client event stream. The transport
// replays from Last-Event-ID when the client resumes.
func (h *HTTPHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.Get(r.Header.Get(sessionIDHeader))
	if !ok {
		http.Error(w, "Invalid or missing session ID", http.StatusBadRequest)
		return
	}
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		h.logger.Debug("resuming stream", zap.String("session_id", sess.ID), zap.String("last_event_id", last))
	}
	sess.ServeHTTP(w, r)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionIDHeader)
	if _, ok := h.sessions.Get(id); !ok {
		http.Error(w, "Invalid or missing session ID", http.StatusBadRequest)
		return
	}
	if err := h.sessions.Close(id); err != nil {
		h.logger.Warn("error closing session", zap.String("session_id", id), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Session setup ────────────────────────────────────────────────────────────

func (h *HTTPHandler) startSession() (*Session, error) {
	id := uuid.NewString()
	t := &mcp.StreamableServerTransport{
		SessionID:  id,
		EventStore: mcp.NewMemoryEventStore(nil),
	}
	ss, err := h.newServer().Connect(h.baseCtx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connect session: %w", err)
	}

	sess := NewSession(id, t, ss)
	if err := h.sessions.Add(sess); err != nil {
		_ = ss.Close()
		return nil, err
	}

	// Transport-level closure (client gone, connection error) ends Wait.
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = ss.Wait()
		if h.sessions.Remove(id) {
			sess.markClosed()
		}
	}()
	return sess, nil
}

// isInitialize reports whether body is an initialize request, alone or in
// a batch.
func isInitialize(body []byte) bool {
	type message struct {
		Method string `json:"method"`
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}
	if body[0] == '[' {
		var batch []message
		if err := json.Unmarshal(body, &batch); err != nil {
			return false
		}
		for _, m := range batch {
			if m.Method == "initialize" {
				return true
			}
		}
		return false
	}
	var m message
	if err := json.Unmarshal(body, &m); err != nil {
		return false
	}
	return m.Method == "initialize"
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeRPCError(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, struct {
		JSONRPC string    `json:"jsonrpc"`
		Error   rpcError  `json:"error"`
		ID      *struct{} `json:"id"`
	}{JSONRPC: "2.0", Error: rpcError{Code: code, Message: msg}})
}

// cors allows any origin and exposes the session header to browsers.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		hdr.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID")
		hdr.Set("Access-Control-Expose-Headers", sessionIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Server loop ──────────────────────────────────────────────────────────────

// ServeHTTP listens on addr until ctx is cancelled, then closes all
// sessions and shuts the server down.
func ServeHTTP(ctx context.Context, addr string, h *HTTPHandler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return Serve(ctx, ln, h, logger)
}

// Serve is ServeHTTP on an existing listener.
func Serve(ctx context.Context, ln net.Listener, h *HTTPHandler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("MCP server listening", zap.String("addr", ln.Addr().String()), zap.String("endpoint", "/mcp"))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		h.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Closing sessions first ends open event streams, which would
	// otherwise hold Shutdown until its deadline.
	n := h.Shutdown(shutdownCtx)
	logger.Info("closed sessions", zap.Int("count", n))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
