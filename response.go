package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ErrorDetail is one entry of the error body.
type ErrorDetail struct {
	Key     string `json:"key_path"`
	Message string `json:"message"`
}

// Response accumulates the outcome of a request. Code defaults to 200 and is
// last-write-wins. Errors only ever accumulate.
type Response struct {
	Code int
	Body any

	errors []ErrorDetail
}

// NewResponse returns a Response with code 200 and no errors.
func NewResponse() *Response {
	return &Response{Code: 200}
}

// SetError appends an error detail. Earlier errors are kept.
func (r *Response) SetError(key, message string) {
	r.errors = append(r.errors, ErrorDetail{Key: key, Message: message})
}

// Errors returns a copy of the accumulated error details in insertion order.
func (r *Response) Errors() []ErrorDetail {
	out := make([]ErrorDetail, len(r.errors))
	copy(out, r.errors)
	return out
}

// HasErrors reports whether any error detail was recorded.
func (r *Response) HasErrors() bool {
	return len(r.errors) > 0
}

// Fail sets the code from e and appends its key and message.
func (r *Response) Fail(e *Error) {
	r.Code = e.Code
	r.SetError(e.Key, e.Message)
}

// RawBody returns the value that will be serialized: the error envelope when
// errors exist, otherwise Body.
func (r *Response) RawBody() any {
	if r.HasErrors() {
		return errorEnvelope{Errors: r.Errors()}
	}
	return r.Body
}

// Result is the serialized response handed back to the gateway.
type Result struct {
	Headers    map[string]string `json:"headers"`
	StatusCode int               `json:"statusCode"`
	Body       string            `json:"body"`
}

type errorEnvelope struct {
	Errors []ErrorDetail `json:"errors"`
}

// Result renders the response. When the body cannot be encoded the result is
// the generic 500 error body.
func (r *Response) Result() Result {
	body, err := encodeBody(r.RawBody())
	code := r.Code
	if err != nil {
		code = ErrInternal.Code
		body, _ = encodeBody(errorEnvelope{Errors: []ErrorDetail{{Key: ErrInternal.Key, Message: ErrInternal.Message}}})
	}
	return Result{
		Headers:    corsHeaders(),
		StatusCode: code,
		Body:       body,
	}
}

func corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "*",
	}
}

func encodeBody(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode response body: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
