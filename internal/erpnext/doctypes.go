package erpnext

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// docTypeListLimit caps how many DocType names are requested per source.
const docTypeListLimit = 500

// commonDocTypes is served when the site refuses every listing endpoint.
var commonDocTypes = []string{
	"Customer",
	"Supplier",
	"Item",
	"Sales Order",
	"Purchase Order",
	"Sales Invoice",
	"Purchase Invoice",
	"Employee",
	"Lead",
	"Opportunity",
	"Quotation",
	"Payment Entry",
	"Journal Entry",
	"Stock Entry",
}

var errNoDocTypeData = errors.New("response contained no DocType data")

// docTypeSource is one way of listing DocType names.
type docTypeSource struct {
	name  string
	fetch func(ctx context.Context) ([]string, error)
}

func (c *Client) docTypeSources() []docTypeSource {
	return []docTypeSource{
		{name: "resource", fetch: c.docTypesFromResource},
		{name: "search_link", fetch: c.docTypesFromSearch},
		{name: "builtin", fetch: func(context.Context) ([]string, error) {
			return append([]string(nil), commonDocTypes...), nil
		}},
	}
}

// GetAllDocTypes lists DocType names. It never fails: each source that
// errors is logged and the next one is tried, ending with a built-in list.
func (c *Client) GetAllDocTypes(ctx context.Context) ([]string, error) {
	for _, src := range c.docTypes {
		names, err := src.fetch(ctx)
		if err == nil {
			return names, nil
		}
		c.logger.Warn("doctype listing failed, falling back",
			zap.String("source", src.name),
			zap.String("error", Detail(err)))
	}
	return append([]string(nil), commonDocTypes...), nil
}

func (c *Client) docTypesFromResource(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("fields", `["name"]`)
	q.Set("limit_page_length", strconv.Itoa(docTypeListLimit))

	var out struct {
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, resourcePath("DocType"), q, nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, errNoDocTypeData
	}
	names := make([]string, 0, len(out.Data))
	for _, d := range out.Data {
		names = append(names, d.Name)
	}
	return names, nil
}

func (c *Client) docTypesFromSearch(ctx context.Context) ([]string, error) {
	q := url.Values{}
	q.Set("doctype", "DocType")
	q.Set("txt", "")
	q.Set("page_length", strconv.Itoa(docTypeListLimit))

	var out struct {
		Message []struct {
			Value string `json:"value"`
		} `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/method/frappe.desk.search.search_link", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, errNoDocTypeData
	}
	names := make([]string, 0, len(out.Message))
	for _, m := range out.Message {
		names = append(names, m.Value)
	}
	return names, nil
}
