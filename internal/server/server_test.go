package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerbenvds/erpnext-mcp-server/internal/erpnext"
)

// fakeERP records calls and returns canned values.
type fakeERP struct {
	mu     sync.Mutex
	authed bool
	calls  []string

	listOpts erpnext.ListOptions
	docs     []erpnext.Document
	doc      erpnext.Document
	fields   []erpnext.DocTypeField
	report   any
	err      error
}

func (f *fakeERP) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeERP) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeERP) IsAuthenticated() bool { return f.authed }

func (f *fakeERP) GetDocument(_ context.Context, doctype, name string) (erpnext.Document, error) {
	f.record("GetDocument " + doctype + "/" + name)
	return f.doc, f.err
}

func (f *fakeERP) GetDocList(_ context.Context, doctype string, opts erpnext.ListOptions) ([]erpnext.Document, error) {
	f.record("GetDocList " + doctype)
	f.listOpts = opts
	return f.docs, f.err
}

func (f *fakeERP) CreateDocument(_ context.Context, doctype string, fields map[string]any) (erpnext.Document, error) {
	f.record("CreateDocument " + doctype)
	return f.doc, f.err
}

func (f *fakeERP) UpdateDocument(_ context.Context, doctype, name string, fields map[string]any) (erpnext.Document, error) {
	f.record("UpdateDocument " + doctype + "/" + name)
	return f.doc, f.err
}

func (f *fakeERP) RunReport(_ context.Context, reportName string, filters map[string]any) (any, error) {
	f.record("RunReport " + reportName)
	return f.report, f.err
}

func (f *fakeERP) GetAllDocTypes(context.Context) ([]string, error) {
	f.record("GetAllDocTypes")
	return []string{"Customer", "Item"}, nil
}

func (f *fakeERP) GetDocTypeFields(_ context.Context, doctype string) ([]erpnext.DocTypeField, error) {
	f.record("GetDocTypeFields " + doctype)
	return f.fields, f.err
}

// connect starts an in-memory client session against a server over erp.
func connect(t *testing.T, erp ERPNext, m *Metrics) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	srv := New(erp, Options{Metrics: m})

	ct, st := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return res, text.Text
}

func TestToolCatalog(t *testing.T) {
	cs := connect(t, &fakeERP{authed: true}, nil)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		ToolGetDocTypes, ToolGetDocTypeFields, ToolGetDocuments,
		ToolCreateDocument, ToolUpdateDocument, ToolRunReport,
	}, names)
}

func TestGetDocumentsUnauthenticated(t *testing.T) {
	erp := &fakeERP{}
	cs := connect(t, erp, nil)

	res, text := callTool(t, cs, ToolGetDocuments, map[string]any{"doctype": "Customer", "limit": 5})
	assert.True(t, res.IsError)
	assert.Regexp(t, `Not authenticated`, text)
	assert.Zero(t, erp.callCount())
}

func TestGetDocuments(t *testing.T) {
	erp := &fakeERP{authed: true, docs: []erpnext.Document{{"name": "CUST-1"}}}
	cs := connect(t, erp, nil)

	res, text := callTool(t, cs, ToolGetDocuments, map[string]any{
		"doctype": " Customer ",
		"fields":  []any{"name", "customer_name"},
		"filters": map[string]any{"disabled": 0},
		"limit":   "5",
	})
	assert.False(t, res.IsError)
	assert.JSONEq(t, `[{"name":"CUST-1"}]`, text)
	assert.Equal(t, []string{"GetDocList Customer"}, erp.calls)
	assert.Equal(t, 5, erp.listOpts.Limit)
	assert.Equal(t, []string{"name", "customer_name"}, erp.listOpts.Fields)
	assert.Equal(t, map[string]any{"disabled": float64(0)}, erp.listOpts.Filters)
}

func TestToolValidationErrors(t *testing.T) {
	erp := &fakeERP{authed: true}
	cs := connect(t, erp, nil)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{ToolGetDocuments, map[string]any{"doctype": "Customer", "limit": 0}, "limit must be a positive integer"},
		{ToolGetDocuments, map[string]any{"doctype": "Customer", "fields": "name"}, "fields must be an array"},
		{ToolGetDocuments, map[string]any{"doctype": "Cust/../omer"}, "doctype contains invalid characters"},
		{ToolGetDocTypeFields, map[string]any{}, "doctype is required"},
		{ToolCreateDocument, map[string]any{"doctype": "Customer", "data": []any{1, 2, 3}}, "data must be an object"},
		{ToolUpdateDocument, map[string]any{"doctype": "Customer", "name": strings.Repeat("x", 141), "data": map[string]any{}}, "name exceeds maximum length"},
		{ToolRunReport, map[string]any{"report_name": "GL", "filters": "x"}, "filters must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.want, func(t *testing.T) {
			res, text := callTool(t, cs, tt.tool, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, text, tt.want)
		})
	}
	assert.Zero(t, erp.callCount())
}

func TestCreateAndUpdateText(t *testing.T) {
	erp := &fakeERP{authed: true, doc: erpnext.Document{"name": "CUST-0001", "customer_name": "ACME"}}
	cs := connect(t, erp, nil)

	_, text := callTool(t, cs, ToolCreateDocument, map[string]any{"doctype": "Customer", "data": map[string]any{"customer_name": "ACME"}})
	assert.True(t, strings.HasPrefix(text, "Created Customer: CUST-0001\n\n{"), text)

	_, text = callTool(t, cs, ToolUpdateDocument, map[string]any{"doctype": "Customer", "name": "CUST-0001", "data": map[string]any{"customer_name": "ACME"}})
	assert.True(t, strings.HasPrefix(text, "Updated Customer: CUST-0001\n\n{"), text)
}

func TestUpstreamErrorIsToolError(t *testing.T) {
	erp := &fakeERP{authed: true, err: &erpnext.Error{Op: "Failed to run report GL", Detail: "HTTP 403 Forbidden - Not permitted"}}
	cs := connect(t, erp, nil)

	res, text := callTool(t, cs, ToolRunReport, map[string]any{"report_name": "GL"})
	assert.True(t, res.IsError)
	assert.Equal(t, "Failed to run report GL: HTTP 403 Forbidden - Not permitted", text)
}

func TestGetDocTypesAndFields(t *testing.T) {
	opts := "Customer Group"
	erp := &fakeERP{authed: true, fields: []erpnext.DocTypeField{{Fieldname: "customer_group", Fieldtype: "Link", Label: "Group", Options: &opts}}}
	cs := connect(t, erp, nil)

	_, text := callTool(t, cs, ToolGetDocTypes, nil)
	assert.JSONEq(t, `["Customer","Item"]`, text)

	_, text = callTool(t, cs, ToolGetDocTypeFields, map[string]any{"doctype": "Customer"})
	assert.JSONEq(t, `[{"fieldname":"customer_group","fieldtype":"Link","label":"Group","reqd":0,"options":"Customer Group","description":null}]`, text)
}

func TestUnknownToolIsProtocolError(t *testing.T) {
	cs := connect(t, &fakeERP{authed: true}, nil)
	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "drop_database"})
	require.Error(t, err)
}

func TestMetricsRecorded(t *testing.T) {
	m := NewMetrics()
	cs := connect(t, &fakeERP{}, m)

	callTool(t, cs, ToolGetDocTypes, nil)
	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.Total)
	assert.EqualValues(t, 1, snap.Failure)
	assert.EqualValues(t, 1, snap.PerTool[ToolGetDocTypes])
}

func TestReadDocTypesResource(t *testing.T) {
	cs := connect(t, &fakeERP{authed: true}, nil)

	res, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "erpnext://DocTypes"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	assert.JSONEq(t, `["Customer","Item"]`, res.Contents[0].Text)
}

func TestReadDocumentResource(t *testing.T) {
	erp := &fakeERP{authed: true, doc: erpnext.Document{"name": "SO-0001"}}
	cs := connect(t, erp, nil)

	res, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "erpnext://Sales%20Order/SO-0001"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"SO-0001"}`, res.Contents[0].Text)
	assert.Equal(t, []string{"GetDocument Sales Order/SO-0001"}, erp.calls)
}

func TestReadResourceProtocolErrors(t *testing.T) {
	cs := connect(t, &fakeERP{}, nil)
	_, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "erpnext://DocTypes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not authenticated")

	erp := &fakeERP{authed: true, err: errors.New("boom")}
	cs = connect(t, erp, nil)
	_, err = cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "erpnext://Customer/X"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestParseDocumentURI(t *testing.T) {
	doctype, name, err := parseDocumentURI("erpnext://Sales%20Order/SO-0001")
	require.NoError(t, err)
	assert.Equal(t, "Sales Order", doctype)
	assert.Equal(t, "SO-0001", name)

	for _, uri := range []string{
		"erpnext://Customer",
		"erpnext://Customer/",
		"erpnext:///X",
		"other://Customer/X",
		"erpnext://Customer/a/b",
		"erpnext://Cust%ZZ/X",
	} {
		_, _, err := parseDocumentURI(uri)
		require.Error(t, err, uri)
		assert.Contains(t, err.Error(), "Invalid ERPNext resource URI", uri)
	}
}

func TestReadMalformedDocumentURI(t *testing.T) {
	erp := &fakeERP{authed: true}
	cs := connect(t, erp, nil)

	for _, uri := range []string{
		"erpnext://Customer",
		"erpnext://Customer/",
		"erpnext://Customer/a/b",
		"erpnext://Bad$Type/X",
	} {
		_, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: uri})
		require.Error(t, err, uri)
		assert.Contains(t, err.Error(), "Invalid ERPNext resource URI: "+uri, uri)
		var werr *jsonrpc.Error
		require.True(t, errors.As(err, &werr), uri)
		assert.EqualValues(t, codeInvalidParams, werr.Code, uri)
	}
	assert.Zero(t, erp.callCount())

	// Other schemes keep the generic not-found error.
	_, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "file:///etc/passwd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Resource not found")
}

func TestReadMalformedURIUnauthenticated(t *testing.T) {
	cs := connect(t, &fakeERP{}, nil)
	_, err := cs.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "erpnext://Customer"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not authenticated")
}
