package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Error detail sources used by the requirement checks.
const (
	SourceHeaders = "headers"
	SourceQuery   = "queryParams"
)

// Validator checks requests against Requirements and, through its
// SchemaEngine, against an OpenAPI document.
type Validator struct {
	engine SchemaEngine
}

// NewValidator returns a Validator. engine may be nil when no Requirement
// declares a body contract and OpenAPI validation is not used.
func NewValidator(engine SchemaEngine) *Validator {
	return &Validator{engine: engine}
}

// check is one row of the requirement table.
type check struct {
	name string
	run  func(ctx context.Context, v *Validator, req *Request, res *Response, r *Requirement) error
}

// checks run in this order for every request; none short-circuits.
var checks = []check{
	{"requiredHeaders", func(_ context.Context, _ *Validator, req *Request, res *Response, r *Requirement) error {
		requireFields(res, lower(r.RequiredHeaders), req.Headers, SourceHeaders)
		return nil
	}},
	{"availableHeaders", func(_ context.Context, _ *Validator, req *Request, res *Response, r *Requirement) error {
		if r.AvailableHeaders != nil {
			allowFields(res, lower(r.AvailableHeaders), req.Headers, SourceHeaders)
		}
		return nil
	}},
	{"requiredQuery", func(_ context.Context, _ *Validator, req *Request, res *Response, r *Requirement) error {
		requireFields(res, r.RequiredQuery, req.Query, SourceQuery)
		return nil
	}},
	{"availableQuery", func(_ context.Context, _ *Validator, req *Request, res *Response, r *Requirement) error {
		if r.AvailableQuery != nil {
			allowFields(res, r.AvailableQuery, req.Query, SourceQuery)
		}
		return nil
	}},
	{"requiredBody", func(ctx context.Context, v *Validator, req *Request, res *Response, r *Requirement) error {
		if r.RequiredBody == nil {
			return nil
		}
		return v.validateBody(ctx, r.RequiredBody, req.Body, res)
	}},
}

// ValidateWithRequirements applies r to req, recording every failure on res
// with code 400. A nil Requirement imposes nothing. The returned error
// reports a schema engine failure, not a validation failure.
func (v *Validator) ValidateWithRequirements(ctx context.Context, req *Request, res *Response, r *Requirement) (*Response, error) {
	if r == nil {
		return res, nil
	}
	for _, c := range checks {
		if err := c.run(ctx, v, req, res, r); err != nil {
			return res, fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return res, nil
}

func requireFields(res *Response, required []string, sent map[string]string, source string) {
	for _, field := range required {
		if _, ok := sent[field]; !ok {
			res.Code = 400
			res.SetError(source, fmt.Sprintf("Please provide %s for %s", field, source))
		}
	}
}

func allowFields(res *Response, available []string, sent map[string]string, source string) {
	allowed := make(map[string]bool, len(available))
	for _, f := range available {
		allowed[f] = true
	}
	for _, field := range sortedKeys(sent) {
		if !allowed[field] {
			res.Code = 400
			res.SetError(source, fmt.Sprintf("%s is not an available %s", field, source))
		}
	}
}

func (v *Validator) validateBody(ctx context.Context, c *Contract, body any, res *Response) error {
	if v.engine == nil {
		return fmt.Errorf("body contract %s declared but no schema engine is configured", c)
	}
	vs, err := v.engine.Validate(ctx, c, body)
	if err != nil {
		return err
	}
	for _, violation := range vs {
		res.Code = 400
		res.SetError(keyPath(violation.Path), violation.Message)
	}
	return nil
}

// ValidateWithOpenAPI checks req against the schema document's operation for
// its route and method. Each violation is keyed by the second segment of its
// dotted path, so "request.queryParameters.limit" is reported under
// "queryParameters".
func (v *Validator) ValidateWithOpenAPI(ctx context.Context, req *Request, res *Response) (*Response, error) {
	if v.engine == nil {
		return res, fmt.Errorf("openapi validation requires a schema engine")
	}
	route := req.Route
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	vs, err := v.engine.ValidateOpenAPI(ctx, route, req.Method, OpenAPIRequest{
		Headers:         req.Headers,
		QueryParameters: req.Query,
		PathParameters:  req.PathParams,
		Body:            req.Body,
	})
	if err != nil {
		return res, err
	}
	for _, violation := range vs {
		res.Code = 400
		key := violation.Path
		if parts := strings.Split(violation.Path, "."); len(parts) > 1 {
			key = parts[1]
		}
		res.SetError(key, violation.Message)
	}
	return res, nil
}

// RecordViolation is one failure reported by ValidateRecord.
type RecordViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError lists the violations of a record.
type ValidationError struct {
	Violations []RecordViolation
}

func (e *ValidationError) Error() string {
	b, err := json.Marshal(e.Violations)
	if err != nil {
		return fmt.Sprintf("%d schema violations", len(e.Violations))
	}
	return string(b)
}

// ValidateRecord checks a payload outside of any request, for example a
// queue message, against c. It returns a *ValidationError listing every
// violation, or nil when the payload conforms.
func (v *Validator) ValidateRecord(ctx context.Context, c *Contract, body any) error {
	if v.engine == nil {
		return fmt.Errorf("record contract %s declared but no schema engine is configured", c)
	}
	vs, err := v.engine.Validate(ctx, c, body)
	if err != nil {
		return err
	}
	if len(vs) == 0 {
		return nil
	}
	out := &ValidationError{Violations: make([]RecordViolation, len(vs))}
	for i, violation := range vs {
		out.Violations[i] = RecordViolation{Path: keyPath(violation.Path), Message: violation.Message}
	}
	return out
}

func lower(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
