package gateway

import (
	"context"
	"fmt"

	"github.com/bjaus/gateway/openapi"
)

// Violation is one schema failure reported by a SchemaEngine.
type Violation struct {
	// Path locates the failure. Payload checks use a JSON pointer ("" for the
	// payload itself); request checks use a dotted path such as
	// "request.queryParameters.limit".
	Path    string
	Message string
}

// OpenAPIRequest is the request shape handed to SchemaEngine.ValidateOpenAPI.
type OpenAPIRequest struct {
	Headers         map[string]string `json:"headers"`
	QueryParameters map[string]string `json:"queryParameters"`
	PathParameters  map[string]string `json:"pathParameters"`
	Body            any               `json:"body"`
}

// SchemaEngine validates payloads against named or inline schemas and whole
// requests against an OpenAPI document.
type SchemaEngine interface {
	// Validate checks payload against c. An unknown reference is an error,
	// not a violation.
	Validate(ctx context.Context, c *Contract, payload any) ([]Violation, error)

	// ValidateOpenAPI checks req against the operation serving route and
	// method. Route carries a leading slash.
	ValidateOpenAPI(ctx context.Context, route, method string, req OpenAPIRequest) ([]Violation, error)
}

// RequirementDeriver is implemented by engines that can derive a Requirement
// from their schema document. ok is false when the document has no operation
// for route and method.
type RequirementDeriver interface {
	DeriveRequirement(ctx context.Context, route, method string, strict bool) (req *Requirement, ok bool, err error)
}

// OpenAPIEngine is a SchemaEngine over an OpenAPI document.
type OpenAPIEngine struct {
	doc *openapi.Document
}

// NewOpenAPIEngine returns an engine for doc.
func NewOpenAPIEngine(doc *openapi.Document) *OpenAPIEngine {
	return &OpenAPIEngine{doc: doc}
}

// LoadOpenAPIEngine reads the document at path.
func LoadOpenAPIEngine(path string) (*OpenAPIEngine, error) {
	doc, err := openapi.Load(path)
	if err != nil {
		return nil, err
	}
	return NewOpenAPIEngine(doc), nil
}

// Validate implements the SchemaEngine interface.
func (e *OpenAPIEngine) Validate(_ context.Context, c *Contract, payload any) ([]Violation, error) {
	var (
		vs  []openapi.Violation
		err error
	)
	switch {
	case c == nil:
		return nil, nil
	case c.Ref != "":
		vs, err = e.doc.Validate(c.Ref, payload)
	default:
		var s *openapi.Schema
		if s, err = openapi.SchemaFromMap(c.Schema); err == nil {
			vs, err = e.doc.ValidateSchema(s, payload)
		}
	}
	if err != nil {
		return nil, err
	}
	return convertViolations(vs), nil
}

// ValidateOpenAPI implements the SchemaEngine interface.
func (e *OpenAPIEngine) ValidateOpenAPI(_ context.Context, route, method string, req OpenAPIRequest) ([]Violation, error) {
	vs, err := e.doc.ValidateRequest(route, method, openapi.Request{
		Headers:         req.Headers,
		QueryParameters: req.QueryParameters,
		PathParameters:  req.PathParameters,
		Body:            req.Body,
	})
	if err != nil {
		return nil, err
	}
	return convertViolations(vs), nil
}

// DeriveRequirement implements the RequirementDeriver interface.
//
// Strict requirements also restrict the query string to the declared
// parameters. Headers are only restricted when the operation declares at
// least one header parameter.
func (e *OpenAPIEngine) DeriveRequirement(_ context.Context, route, method string, strict bool) (*Requirement, bool, error) {
	m, ok, err := e.doc.Find(route, method)
	if err != nil || !ok {
		return nil, false, err
	}
	c, err := e.doc.Contract(m)
	if err != nil {
		return nil, false, err
	}

	r := &Requirement{
		RequiredHeaders: c.RequiredHeaders,
		RequiredQuery:   c.RequiredQuery,
	}
	if c.RequestBody != "" {
		r.RequiredBody = Ref(c.RequestBody)
	}
	if c.ResponseBody != "" {
		r.ResponseBody = Ref(c.ResponseBody)
	}
	if strict {
		r.AvailableQuery = append([]string{}, c.Query...)
		if len(c.Headers) > 0 {
			r.AvailableHeaders = c.Headers
		}
	}
	return r, true, nil
}

func convertViolations(in []openapi.Violation) []Violation {
	if len(in) == 0 {
		return nil
	}
	out := make([]Violation, len(in))
	for i, v := range in {
		out[i] = Violation{Path: v.Path, Message: v.Message}
	}
	return out
}

// keyPath returns the key_path of an error detail for a JSON pointer: the
// pointer itself, or "root" for the payload as a whole.
func keyPath(pointer string) string {
	if pointer == "" {
		return "root"
	}
	return pointer
}

// ResponseValidator checks a handler's response body against a contract.
type ResponseValidator interface {
	// IsValid records violations on res (code 400) and returns an error only
	// when validation itself could not run.
	IsValid(ctx context.Context, contract *Contract, req *Request, res *Response) error
}

// SchemaResponseValidator is a ResponseValidator backed by a SchemaEngine.
type SchemaResponseValidator struct {
	engine SchemaEngine
}

// NewResponseValidator returns a ResponseValidator using engine.
func NewResponseValidator(engine SchemaEngine) *SchemaResponseValidator {
	return &SchemaResponseValidator{engine: engine}
}

// IsValid implements the ResponseValidator interface.
func (v *SchemaResponseValidator) IsValid(ctx context.Context, contract *Contract, _ *Request, res *Response) error {
	if contract == nil {
		return nil
	}
	if v.engine == nil {
		return fmt.Errorf("response contract %s declared but no schema engine is configured", contract)
	}
	vs, err := v.engine.Validate(ctx, contract, res.Body)
	if err != nil {
		return fmt.Errorf("validate response against %s: %w", contract, err)
	}
	if len(vs) == 0 {
		return nil
	}
	res.Code = 400
	for _, violation := range vs {
		res.SetError(keyPath(violation.Path), violation.Message)
	}
	return nil
}
