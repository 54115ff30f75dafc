package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gerbenvds/erpnext-mcp-server/internal/erpnext"
	"github.com/gerbenvds/erpnext-mcp-server/internal/validate"
)

// Tool names are part of the public contract with MCP clients.
const (
	ToolGetDocTypes      = "get_doctypes"
	ToolGetDocTypeFields = "get_doctype_fields"
	ToolGetDocuments     = "get_documents"
	ToolCreateDocument   = "create_document"
	ToolUpdateDocument   = "update_document"
	ToolRunReport        = "run_report"
)

type toolFunc func(ctx context.Context, args map[string]any) *mcp.CallToolResult

// tool adapts a toolFunc: decodes arguments and applies the auth precheck
// before anything reaches ERPNext.
func (h *handlers) tool(fn toolFunc) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !h.erp.IsAuthenticated() {
			return errTextResult(notAuthenticatedMsg), nil
		}
		args, err := decodeArgs(req.Params.Arguments)
		if err != nil {
			return errResult(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		return fn(ctx, args), nil
	}
}

func (h *handlers) registerTools(srv *mcp.Server) {
	add := func(t *mcp.Tool, fn toolFunc) {
		srv.AddTool(t, h.instrument(t.Name, h.tool(fn)))
	}

	// ── get_doctypes ──────────────────────────────────────────────────────────
	add(&mcp.Tool{
		Name:        ToolGetDocTypes,
		Description: "Get a list of all available DocTypes",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, h.getDocTypes)

	// ── get_doctype_fields ────────────────────────────────────────────────────
	add(&mcp.Tool{
		Name:        ToolGetDocTypeFields,
		Description: "Get fields list for a specific DocType",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"doctype":{"type":"string","description":"ERPNext DocType (e.g., Customer, Item)"}},"required":["doctype"]}`),
	}, h.getDocTypeFields)

	// ── get_documents ─────────────────────────────────────────────────────────
	add(&mcp.Tool{
		Name:        ToolGetDocuments,
		Description: "Get a list of documents for a specific doctype",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"doctype":{"type":"string","description":"ERPNext DocType (e.g., Customer, Item)"},"fields":{"type":"array","items":{"type":"string"},"description":"Fields to include (optional)"},"filters":{"type":"object","additionalProperties":true,"description":"Filters in the format {field: value} (optional)"},"limit":{"type":"number","description":"Maximum number of documents to return (optional)"}},"required":["doctype"]}`),
	}, h.getDocuments)

	// ── create_document ───────────────────────────────────────────────────────
	add(&mcp.Tool{
		Name:        ToolCreateDocument,
		Description: "Create a new document in ERPNext",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"doctype":{"type":"string","description":"ERPNext DocType (e.g., Customer, Item)"},"data":{"type":"object","additionalProperties":true,"description":"Document data"}},"required":["doctype","data"]}`),
	}, h.createDocument)

	// ── update_document ───────────────────────────────────────────────────────
	add(&mcp.Tool{
		Name:        ToolUpdateDocument,
		Description: "Update an existing document in ERPNext",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"doctype":{"type":"string","description":"ERPNext DocType (e.g., Customer, Item)"},"name":{"type":"string","description":"Document name/ID"},"data":{"type":"object","additionalProperties":true,"description":"Document data to update"}},"required":["doctype","name","data"]}`),
	}, h.updateDocument)

	// ── run_report ────────────────────────────────────────────────────────────
	add(&mcp.Tool{
		Name:        ToolRunReport,
		Description: "Run an ERPNext report",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"report_name":{"type":"string","description":"Name of the report"},"filters":{"type":"object","additionalProperties":true,"description":"Report filters (optional)"}},"required":["report_name"]}`),
	}, h.runReport)
}

func (h *handlers) getDocTypes(ctx context.Context, _ map[string]any) *mcp.CallToolResult {
	names, err := h.erp.GetAllDocTypes(ctx)
	if err != nil {
		return errResult(fmt.Errorf("Failed to get DocTypes: %w", err))
	}
	return jsonResult(names)
}

func (h *handlers) getDocTypeFields(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	doctype, err := validate.Identifier(args["doctype"], "doctype")
	if err != nil {
		return errResult(err)
	}
	fields, err := h.erp.GetDocTypeFields(ctx, doctype)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(fields)
}

func (h *handlers) getDocuments(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	doctype, err := validate.Identifier(args["doctype"], "doctype")
	if err != nil {
		return errResult(err)
	}
	fields, err := validate.StringArray(args["fields"], "fields")
	if err != nil {
		return errResult(err)
	}
	limit, err := validate.PositiveInt(args["limit"], "limit")
	if err != nil {
		return errResult(err)
	}
	var filters map[string]any
	if args["filters"] != nil {
		if filters, err = validate.Object(args["filters"], "filters"); err != nil {
			return errResult(err)
		}
	}

	docs, err := h.erp.GetDocList(ctx, doctype, erpnext.ListOptions{Filters: filters, Fields: fields, Limit: limit})
	if err != nil {
		return errResult(err)
	}
	return jsonResult(docs)
}

func (h *handlers) createDocument(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	doctype, err := validate.Identifier(args["doctype"], "doctype")
	if err != nil {
		return errResult(err)
	}
	data, err := validate.Object(args["data"], "data")
	if err != nil {
		return errResult(err)
	}

	doc, err := h.erp.CreateDocument(ctx, doctype, data)
	if err != nil {
		return errResult(err)
	}
	return documentResult(fmt.Sprintf("Created %s: %s", doctype, doc.Name()), doc)
}

func (h *handlers) updateDocument(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	doctype, err := validate.Identifier(args["doctype"], "doctype")
	if err != nil {
		return errResult(err)
	}
	name, err := validate.Identifier(args["name"], "name")
	if err != nil {
		return errResult(err)
	}
	data, err := validate.Object(args["data"], "data")
	if err != nil {
		return errResult(err)
	}

	doc, err := h.erp.UpdateDocument(ctx, doctype, name, data)
	if err != nil {
		return errResult(err)
	}
	return documentResult(fmt.Sprintf("Updated %s: %s", doctype, name), doc)
}

func (h *handlers) runReport(ctx context.Context, args map[string]any) *mcp.CallToolResult {
	report, err := validate.Identifier(args["report_name"], "report_name")
	if err != nil {
		return errResult(err)
	}
	var filters map[string]any
	if args["filters"] != nil {
		if filters, err = validate.Object(args["filters"], "filters"); err != nil {
			return errResult(err)
		}
	}

	out, err := h.erp.RunReport(ctx, report, filters)
	if err != nil {
		return errResult(err)
	}
	return jsonResult(out)
}

func documentResult(header string, doc erpnext.Document) *mcp.CallToolResult {
	text, err := prettyJSON(doc)
	if err != nil {
		return errResult(err)
	}
	return textResult(header + "\n\n" + text)
}
