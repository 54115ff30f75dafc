package server

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/gerbenvds/erpnext-mcp-server/internal/validate"
)

const (
	uriScheme        = "erpnext://"
	docTypesURI      = uriScheme + "DocTypes"
	documentTemplate = uriScheme + "{doctype}/{name}"
)

func (h *handlers) registerResources(srv *mcp.Server) {
	srv.AddResource(&mcp.Resource{
		URI:         docTypesURI,
		Name:        "All DocTypes",
		Description: "List of all available DocTypes in ERPNext",
		MIMEType:    "application/json",
	}, h.readResource)

	srv.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: documentTemplate,
		Name:        "ERPNext Document",
		Description: "Get an ERPNext document by doctype and name",
		MIMEType:    "application/json",
	}, h.readResource)
}

// routeUnmatched hands erpnext:// reads that match no registered resource
// or template to readResource, so a malformed document URI reports why it
// is invalid instead of a bare "Resource not found".
func (h *handlers) routeUnmatched(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		res, err := next(ctx, method, req)
		if err == nil || method != "resources/read" {
			return res, err
		}
		rr, ok := req.(*mcp.ReadResourceRequest)
		if !ok || rr.Params == nil || !strings.HasPrefix(rr.Params.URI, uriScheme) {
			return res, err
		}
		var werr *jsonrpc.Error
		if !errors.As(err, &werr) || werr.Code != mcp.CodeResourceNotFound {
			return res, err
		}
		out, err := h.readResource(ctx, rr)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// readResource serves both the DocTypes listing and single documents.
func (h *handlers) readResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	if !h.erp.IsAuthenticated() {
		return nil, protocolError(codeInvalidRequest, notAuthenticatedMsg)
	}

	if uri == docTypesURI {
		names, err := h.erp.GetAllDocTypes(ctx)
		if err != nil {
			return nil, protocolError(codeInternalError, "Failed to read resource: %v", err)
		}
		return resourceJSON(uri, names)
	}

	doctype, name, err := parseDocumentURI(uri)
	if err != nil {
		return nil, err
	}
	doc, err := h.erp.GetDocument(ctx, doctype, name)
	if err != nil {
		h.logger.Warn("resource read failed", zap.String("uri", uri), zap.Error(err))
		return nil, protocolError(codeInternalError, "Failed to read resource: %v", err)
	}
	return resourceJSON(uri, doc)
}

// parseDocumentURI splits erpnext://{doctype}/{name} on the first slash
// after the scheme. Both segments must be valid identifiers.
func parseDocumentURI(uri string) (doctype, name string, err error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		return "", "", invalidURI(uri)
	}
	rawType, rawName, ok := strings.Cut(rest, "/")
	if !ok || rawType == "" || rawName == "" {
		return "", "", invalidURI(uri)
	}
	if rawType, err = url.PathUnescape(rawType); err != nil {
		return "", "", invalidURI(uri)
	}
	if rawName, err = url.PathUnescape(rawName); err != nil {
		return "", "", invalidURI(uri)
	}

	if doctype, err = validate.Identifier(rawType, "doctype"); err != nil {
		return "", "", protocolError(codeInvalidParams, "Invalid ERPNext resource URI: %s: %v", uri, err)
	}
	if name, err = validate.Identifier(rawName, "name"); err != nil {
		return "", "", protocolError(codeInvalidParams, "Invalid ERPNext resource URI: %s: %v", uri, err)
	}
	return doctype, name, nil
}

func invalidURI(uri string) error {
	return protocolError(codeInvalidParams, "Invalid ERPNext resource URI: %s", uri)
}

func resourceJSON(uri string, v any) (*mcp.ReadResourceResult, error) {
	text, err := prettyJSON(v)
	if err != nil {
		return nil, protocolError(codeInternalError, "%v", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		}},
	}, nil
}
