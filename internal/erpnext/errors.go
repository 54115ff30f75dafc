package erpnext

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// maxTraceLen bounds how much of a server-side traceback is surfaced.
const maxTraceLen = 500

// ResponseError is a non-2xx reply from ERPNext. Body is kept raw so the
// normalizer can pick whichever error shape the server used.
type ResponseError struct {
	StatusCode int
	StatusText string
	Body       []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("Request failed with status code %d", e.StatusCode)
}

// Error is returned by every Client method. Op names the operation that
// failed; Detail is the normalized upstream message.
type Error struct {
	Op         string
	Detail     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string { return e.Op + ": " + e.Detail }

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var rerr *ResponseError
	return errors.As(err, &rerr) && rerr.StatusCode == http.StatusNotFound
}

func wrap(op string, err error) error {
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	e := &Error{Op: op, Detail: Detail(err), Err: err}
	var rerr *ResponseError
	if errors.As(err, &rerr) {
		e.StatusCode = rerr.StatusCode
	}
	return e
}

// Detail turns any failure from a remote call into one display string.
//
// ERPNext reports errors as _server_messages, message, exception, exc or
// exc_type depending on the code path; the first one present wins.
func Detail(err error) string {
	if err == nil {
		return "Unknown error"
	}
	var rerr *ResponseError
	if !errors.As(err, &rerr) {
		if msg := err.Error(); msg != "" {
			return msg
		}
		return "Unknown error"
	}

	status := fmt.Sprintf("HTTP %d", rerr.StatusCode)
	if rerr.StatusText != "" {
		status += " " + rerr.StatusText
	}
	parts := []string{status}

	if msg := bodyDetail(rerr.Body); msg != "" {
		parts = append(parts, msg)
	}
	if len(parts) == 1 {
		if msg := err.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	return strings.Join(parts, " - ")
}

func bodyDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if v, ok := field(payload, "_server_messages"); ok {
		return serverMessages(v)
	}
	if v, ok := field(payload, "message"); ok {
		return v
	}
	if v, ok := field(payload, "exception"); ok {
		return exceptionLine(v)
	}
	if v, ok := field(payload, "exc"); ok {
		return truncate(v, maxTraceLen)
	}
	if v, ok := field(payload, "exc_type"); ok {
		return v
	}
	return ""
}

// serverMessages decodes Frappe's doubly-encoded message list: a JSON
// string holding an array whose elements are JSON strings of objects.
func serverMessages(v any) string {
	raw := stringify(v)

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return raw
	}
	var msgs []string
	for _, item := range items {
		var obj map[string]any
		var encoded string
		if err := json.Unmarshal(item, &encoded); err == nil {
			if err := json.Unmarshal([]byte(encoded), &obj); err != nil {
				return raw
			}
		} else if err := json.Unmarshal(item, &obj); err != nil {
			return raw
		}
		if m, ok := obj["message"]; ok && m != nil {
			if s := stringify(m); s != "" {
				msgs = append(msgs, s)
			}
		}
	}
	if len(msgs) == 0 {
		return raw
	}
	return strings.Join(msgs, "; ")
}

// exceptionLine picks the final "ExcType: message" line of a traceback.
func exceptionLine(trace string) string {
	var last string
	for _, line := range strings.Split(trace, "\n") {
		if strings.TrimSpace(line) != "" {
			last = strings.TrimRight(line, "\r")
		}
	}
	if last != "" && !strings.HasPrefix(last, "Traceback") &&
		!strings.HasPrefix(last, " ") && !strings.HasPrefix(last, "\t") {
		return last
	}
	return truncate(trace, maxTraceLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// field returns payload[key] as text. Null and empty values count as absent.
func field(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s := stringify(v)
	return s, s != ""
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
