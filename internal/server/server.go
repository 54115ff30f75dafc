// Package server binds the ERPNext tool and resource handlers to an MCP
// server.
//
// Tool failures (missing credentials, bad arguments, upstream errors) are
// returned as error-flagged results so the client sees them as a normal
// reply. Resource failures and malformed requests are JSON-RPC errors.
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/gerbenvds/erpnext-mcp-server/internal/erpnext"
)

// Name and Version are advertised in the initialize handshake.
const (
	Name    = "erpnext-server"
	Version = "0.1.0"
)

// ERPNext is the subset of *erpnext.Client the handlers call.
type ERPNext interface {
	IsAuthenticated() bool
	GetDocument(ctx context.Context, doctype, name string) (erpnext.Document, error)
	GetDocList(ctx context.Context, doctype string, opts erpnext.ListOptions) ([]erpnext.Document, error)
	CreateDocument(ctx context.Context, doctype string, fields map[string]any) (erpnext.Document, error)
	UpdateDocument(ctx context.Context, doctype, name string, fields map[string]any) (erpnext.Document, error)
	RunReport(ctx context.Context, reportName string, filters map[string]any) (any, error)
	GetAllDocTypes(ctx context.Context) ([]string, error)
	GetDocTypeFields(ctx context.Context, doctype string) ([]erpnext.DocTypeField, error)
}

// Options configures New.
type Options struct {
	Logger  *zap.Logger
	Metrics *Metrics // shared across sessions; nil allocates one
}

type handlers struct {
	erp     ERPNext
	logger  *zap.Logger
	metrics *Metrics
}

// New returns an MCP server exposing the ERPNext tools and resources.
func New(erp ERPNext, opts Options) *mcp.Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = NewMetrics()
	}
	h := &handlers{erp: erp, logger: logger.With(zap.String("component", "server")), metrics: m}

	srv := mcp.NewServer(&mcp.Implementation{Name: Name, Version: Version}, nil)
	h.registerResources(srv)
	h.registerTools(srv)
	srv.AddReceivingMiddleware(h.routeUnmatched)
	return srv
}

// decodeArgs reads tool arguments into a generic map; a missing or null
// payload is an empty map.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// instrument wraps a tool handler with timing, metrics and logging.
func (h *handlers) instrument(name string, fn mcp.ToolHandler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t0 := time.Now()
		res, err := fn(ctx, req)
		dur := time.Since(t0)
		failed := err != nil || (res != nil && res.IsError)
		h.metrics.record(name, dur, failed)
		if failed {
			h.logger.Warn("tool call failed", zap.String("tool", name), zap.Duration("took", dur), zap.String("error", failureText(res, err)))
		} else {
			h.logger.Debug("tool call", zap.String("tool", name), zap.Duration("took", dur))
		}
		return res, err
	}
}

func failureText(res *mcp.CallToolResult, err error) string {
	if err != nil {
		return err.Error()
	}
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			return t.Text
		}
	}
	return ""
}
