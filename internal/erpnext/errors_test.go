package erpnext

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailWithoutResponse(t *testing.T) {
	assert.Equal(t, "dial tcp: connection refused", Detail(errors.New("dial tcp: connection refused")))
	assert.Equal(t, "Unknown error", Detail(nil))
	assert.Equal(t, "Unknown error", Detail(errors.New("")))
}

func TestDetailServerMessages(t *testing.T) {
	body := `{"_server_messages": "[\"{\\\"message\\\": \\\"Name is required\\\"}\", \"{\\\"message\\\": \\\"Date is invalid\\\"}\"]"}`
	got := Detail(&ResponseError{StatusCode: 417, StatusText: "Expectation Failed", Body: []byte(body)})
	assert.Equal(t, "HTTP 417 Expectation Failed - Name is required; Date is invalid", got)
}

func TestDetailServerMessagesUnparseable(t *testing.T) {
	body := `{"_server_messages": "not json"}`
	got := Detail(&ResponseError{StatusCode: 417, Body: []byte(body)})
	assert.Equal(t, "HTTP 417 - not json", got)
}

func TestDetailServerMessagesBadInner(t *testing.T) {
	body := `{"_server_messages": "[\"plain text\"]"}`
	got := Detail(&ResponseError{StatusCode: 417, Body: []byte(body)})
	assert.Equal(t, `HTTP 417 - ["plain text"]`, got)
}

func TestDetailPriority(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message", `{"message": "Document not found", "exc_type": "DoesNotExistError"}`, "Document not found"},
		{"message object", `{"message": {"code": 1}}`, `{"code":1}`},
		{"exception last line", `{"exception": "Traceback (most recent call last):\n  File \"x.py\"\n\nfrappe.exceptions.ValidationError: Bad value\n\n"}`, "frappe.exceptions.ValidationError: Bad value"},
		{"exc", `{"exc": "` + strings.Repeat("x", 600) + `"}`, strings.Repeat("x", 500)},
		{"exc_type", `{"exc_type": "PermissionError"}`, "PermissionError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detail(&ResponseError{StatusCode: 500, StatusText: "Internal Server Error", Body: []byte(tt.body)})
			assert.Equal(t, "HTTP 500 Internal Server Error - "+tt.want, got)
		})
	}
}

func TestDetailExceptionEndingInTrace(t *testing.T) {
	trace := "Traceback (most recent call last):\n  File \"app.py\", line 1"
	body := fmt.Sprintf(`{"exception": %q}`, trace)
	got := Detail(&ResponseError{StatusCode: 500, Body: []byte(body)})
	assert.Equal(t, "HTTP 500 - "+trace, got)
}

func TestDetailBareStatus(t *testing.T) {
	got := Detail(&ResponseError{StatusCode: 404, StatusText: "Not Found", Body: []byte("<html>nope</html>")})
	assert.True(t, strings.HasPrefix(got, "HTTP 404"), got)
	assert.Equal(t, "HTTP 404 Not Found - Request failed with status code 404", got)
}

func TestDetailEmptyBodyFields(t *testing.T) {
	got := Detail(&ResponseError{StatusCode: 403, Body: []byte(`{"other": 1}`)})
	assert.Equal(t, "HTTP 403 - Request failed with status code 403", got)
}

func TestDetailSkipsEmptyFields(t *testing.T) {
	body := `{"_server_messages": "", "message": "Real reason"}`
	got := Detail(&ResponseError{StatusCode: 417, Body: []byte(body)})
	assert.Equal(t, "HTTP 417 - Real reason", got)

	body = `{"message": "", "exception": null, "exc_type": "ValidationError"}`
	got = Detail(&ResponseError{StatusCode: 417, Body: []byte(body)})
	assert.Equal(t, "HTTP 417 - ValidationError", got)
}

func TestWrapOnce(t *testing.T) {
	cause := &ResponseError{StatusCode: 404, StatusText: "Not Found"}
	err := wrap("Failed to get Customer X", cause)
	again := wrap("Failed to do something else", err)
	require.Same(t, err, again)

	var e *Error
	require.ErrorAs(t, again, &e)
	assert.Equal(t, 404, e.StatusCode)
	assert.True(t, IsNotFound(again))
	assert.True(t, strings.HasPrefix(again.Error(), "Failed to get Customer X: HTTP 404"))
}
