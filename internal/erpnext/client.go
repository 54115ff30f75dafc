// Package erpnext is a thin REST client for the ERPNext/Frappe API.
//
// Every method returns *Error on failure, carrying an operation prefix and
// the upstream message as extracted by Detail.
package erpnext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gerbenvds/erpnext-mcp-server/internal/config"
)

// Document is one ERPNext record. Only "name" is guaranteed.
type Document map[string]any

// Name returns the record's server-assigned name, or "" if missing.
func (d Document) Name() string {
	s, _ := d["name"].(string)
	return s
}

// DocTypeField describes one field of a DocType schema.
type DocTypeField struct {
	Fieldname   string  `json:"fieldname"`
	Fieldtype   string  `json:"fieldtype"`
	Label       string  `json:"label"`
	Reqd        int     `json:"reqd"`
	Options     *string `json:"options"`
	Description *string `json:"description"`
}

// ListOptions narrows GetDocList. Zero values are omitted from the query.
type ListOptions struct {
	Filters map[string]any
	Fields  []string
	Limit   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each upstream request. Zero means no timeout. The
// *http.Client is copied first, so a shared client is never mutated.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client is one authenticated channel to an ERPNext site. It is safe for
// concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	logger    *zap.Logger
	timeout   time.Duration
	docTypes  []docTypeSource
}

// NewClient builds a Client for cfg. cfg is read, never modified.
func NewClient(cfg *config.Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      &http.Client{},
		logger:    logger.With(zap.String("component", "erpnext")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.http
		hc.Timeout = c.timeout
		c.http = &hc
	}
	c.docTypes = c.docTypeSources()
	return c
}

// IsAuthenticated reports whether API credentials were configured. No
// request is made.
func (c *Client) IsAuthenticated() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// ─── Documents ───────────────────────────────────────────────────────────────

// GetDocument fetches a single record.
func (c *Client) GetDocument(ctx context.Context, doctype, name string) (Document, error) {
	var out struct {
		Data Document `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(doctype, name), nil, nil, &out); err != nil {
		return nil, wrap(fmt.Sprintf("Failed to get %s %s", doctype, name), err)
	}
	return out.Data, nil
}

// GetDocList lists records of doctype.
func (c *Client) GetDocList(ctx context.Context, doctype string, opts ListOptions) ([]Document, error) {
	q := url.Values{}
	if opts.Filters != nil {
		b, err := json.Marshal(opts.Filters)
		if err != nil {
			return nil, wrap(fmt.Sprintf("Failed to get %s list", doctype), err)
		}
		q.Set("filters", string(b))
	}
	if len(opts.Fields) > 0 {
		b, _ := json.Marshal(opts.Fields)
		q.Set("fields", string(b))
	}
	if opts.Limit > 0 {
		q.Set("limit_page_length", strconv.Itoa(opts.Limit))
	}

	var out struct {
		Data []Document `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath(doctype), q, nil, &out); err != nil {
		return nil, wrap(fmt.Sprintf("Failed to get %s list", doctype), err)
	}
	if out.Data == nil {
		out.Data = []Document{}
	}
	return out.Data, nil
}

// CreateDocument inserts a record and returns it with its assigned name.
func (c *Client) CreateDocument(ctx context.Context, doctype string, fields map[string]any) (Document, error) {
	var out struct {
		Data Document `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, resourcePath(doctype), nil, fields, &out); err != nil {
		return nil, wrap(fmt.Sprintf("Failed to create %s", doctype), err)
	}
	return out.Data, nil
}

// UpdateDocument applies a partial update to the named record.
func (c *Client) UpdateDocument(ctx context.Context, doctype, name string, fields map[string]any) (Document, error) {
	var out struct {
		Data Document `json:"data"`
	}
	if err := c.do(ctx, http.MethodPut, resourcePath(doctype, name), nil, fields, &out); err != nil {
		return nil, wrap(fmt.Sprintf("Failed to update %s %s", doctype, name), err)
	}
	return out.Data, nil
}

// RunReport executes a query report. The result shape depends on the report.
func (c *Client) RunReport(ctx context.Context, reportName string, filters map[string]any) (any, error) {
	q := url.Values{}
	q.Set("report_name", reportName)
	if filters != nil {
		b, err := json.Marshal(filters)
		if err != nil {
			return nil, wrap(fmt.Sprintf("Failed to run report %s", reportName), err)
		}
		q.Set("filters", string(b))
	}
	var out struct {
		Message any `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/method/frappe.desk.query_report.run", q, nil, &out); err != nil {
		return nil, wrap(fmt.Sprintf("Failed to run report %s", reportName), err)
	}
	return out.Message, nil
}

// ─── Schema ──────────────────────────────────────────────────────────────────

// GetDocTypeFields returns the field metadata of one DocType. A schema
// without a fields list yields an empty slice.
func (c *Client) GetDocTypeFields(ctx context.Context, doctype string) ([]DocTypeField, error) {
	var out struct {
		Data struct {
			Fields []map[string]any `json:"fields"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath("DocType", doctype), nil, nil, &out); err != nil {
		return nil, wrap(fmt.Sprintf("Failed to get fields for %s", doctype), err)
	}
	fields := make([]DocTypeField, 0, len(out.Data.Fields))
	for _, f := range out.Data.Fields {
		fields = append(fields, projectField(f))
	}
	return fields, nil
}

func projectField(f map[string]any) DocTypeField {
	field := DocTypeField{
		Fieldname: stringField(f, "fieldname"),
		Fieldtype: stringField(f, "fieldtype"),
		Label:     stringField(f, "label"),
	}
	switch v := f["reqd"].(type) {
	case float64:
		if v != 0 {
			field.Reqd = 1
		}
	case bool:
		if v {
			field.Reqd = 1
		}
	}
	field.Options = optionalString(f, "options")
	field.Description = optionalString(f, "description")
	return field
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func optionalString(m map[string]any, key string) *string {
	s, ok := m[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// ─── HTTP plumbing ───────────────────────────────────────────────────────────

func resourcePath(segments ...string) string {
	var b strings.Builder
	b.WriteString("/api/resource")
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// do performs one request and decodes a 2xx JSON body into out. Non-2xx
// replies become *ResponseError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.IsAuthenticated() {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	}

	t0 := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("upstream request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(t0)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ResponseError{
			StatusCode: resp.StatusCode,
			StatusText: statusText(resp),
			Body:       data,
		}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
