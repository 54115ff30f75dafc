// Package validate guards tool arguments before they reach ERPNext.
//
// Identifiers (doctype, document and report names) end up in URL paths,
// so they are checked against a conservative allow-list rather than any
// business rule.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MaxIdentifierLength is the longest identifier ERPNext accepts for names.
const MaxIdentifierLength = 140

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_\- ]+$`)

// ErrInvalid matches every *Error via errors.Is.
var ErrInvalid = errors.New("invalid argument")

// Kind classifies a validation failure.
type Kind int

const (
	Required Kind = iota + 1
	Empty
	TooLong
	InvalidChars
	NotObject
	NotPositiveInteger
	NotArray
)

func (k Kind) String() string {
	switch k {
	case Required:
		return "required"
	case Empty:
		return "empty"
	case TooLong:
		return "too_long"
	case InvalidChars:
		return "invalid_chars"
	case NotObject:
		return "not_object"
	case NotPositiveInteger:
		return "not_positive_integer"
	case NotArray:
		return "not_array"
	}
	return "unknown"
}

// Error reports which argument failed and why.
type Error struct {
	Field string
	Kind  Kind
}

func (e *Error) Error() string {
	switch e.Kind {
	case Required:
		return fmt.Sprintf("%s is required and must be a string", e.Field)
	case Empty:
		return fmt.Sprintf("%s cannot be empty", e.Field)
	case TooLong:
		return fmt.Sprintf("%s exceeds maximum length of %d characters", e.Field, MaxIdentifierLength)
	case InvalidChars:
		return fmt.Sprintf("%s contains invalid characters", e.Field)
	case NotObject:
		return fmt.Sprintf("%s must be an object", e.Field)
	case NotPositiveInteger:
		return fmt.Sprintf("%s must be a positive integer", e.Field)
	case NotArray:
		return fmt.Sprintf("%s must be an array", e.Field)
	}
	return fmt.Sprintf("%s is invalid", e.Field)
}

func (e *Error) Is(target error) bool { return target == ErrInvalid }

// Identifier returns the trimmed value of a name argument.
func Identifier(v any, field string) (string, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &Error{Field: field, Kind: Required}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &Error{Field: field, Kind: Empty}
	}
	if len(s) > MaxIdentifierLength {
		return "", &Error{Field: field, Kind: TooLong}
	}
	if !identifierPattern.MatchString(s) {
		return "", &Error{Field: field, Kind: InvalidChars}
	}
	return s, nil
}

// Object checks that v is a JSON object. The contents are not inspected.
func Object(v any, field string) (map[string]any, error) {
	if v == nil {
		return nil, &Error{Field: field, Kind: Required}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &Error{Field: field, Kind: NotObject}
	}
	return m, nil
}

// PositiveInt returns 0 when v is absent. Numeric strings are coerced.
func PositiveInt(v any, field string) (int, error) {
	if v == nil {
		return 0, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, &Error{Field: field, Kind: NotPositiveInteger}
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, &Error{Field: field, Kind: NotPositiveInteger}
		}
		f = parsed
	default:
		return 0, &Error{Field: field, Kind: NotPositiveInteger}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, &Error{Field: field, Kind: NotPositiveInteger}
	}
	return int(f), nil
}

// StringArray returns nil when v is absent. Elements are stringified, not
// validated.
func StringArray(v any, field string) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, &Error{Field: field, Kind: NotArray}
	}
	out := make([]string, len(arr))
	for i, el := range arr {
		out[i] = stringify(el)
	}
	return out, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
