package openapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type pathTemplate struct {
	path     string
	segments []string
	literals int
}

func compileTemplates(paths map[string]PathItem) []pathTemplate {
	out := make([]pathTemplate, 0, len(paths))
	for p := range paths {
		t := pathTemplate{path: p, segments: split(p)}
		for _, s := range t.segments {
			if !isParam(s) {
				t.literals++
			}
		}
		out = append(out, t)
	}
	// literal segments win over parameters; ties break on the path text
	sort.Slice(out, func(i, j int) bool {
		if out[i].literals != out[j].literals {
			return out[i].literals > out[j].literals
		}
		return out[i].path < out[j].path
	})
	return out
}

func (t pathTemplate) match(segs []string) (map[string]string, bool) {
	if len(segs) != len(t.segments) {
		return nil, false
	}
	params := map[string]string{}
	for i, s := range t.segments {
		if isParam(s) {
			params[strings.Trim(s, "{}")] = segs[i]
			continue
		}
		if s != segs[i] {
			return nil, false
		}
	}
	return params, true
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isParam(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// Match is an operation found for a concrete route.
type Match struct {
	Path       string
	Method     string
	Operation  *Operation
	Parameters []*Parameter // path-level and operation-level, references resolved
	PathParams map[string]string
}

// Find returns the operation serving method on route (e.g. "/users/42").
func (d *Document) Find(route, method string) (*Match, bool, error) {
	method = strings.ToLower(method)
	segs := split(route)
	for _, t := range d.templates {
		params, ok := t.match(segs)
		if !ok {
			continue
		}
		item := d.Paths[t.path]
		op, ok := item.Operations[method]
		if !ok {
			continue
		}
		ps, err := d.parameters(item.Parameters, op.Parameters)
		if err != nil {
			return nil, false, fmt.Errorf("%s %s: %w", method, t.path, err)
		}
		return &Match{Path: t.path, Method: method, Operation: op, Parameters: ps, PathParams: params}, true, nil
	}
	return nil, false, nil
}

// parameters merges path-level and operation-level parameters; the
// operation wins when both declare the same name and location.
func (d *Document) parameters(shared, own []*Parameter) ([]*Parameter, error) {
	type key struct{ in, name string }
	seen := map[key]int{}
	var out []*Parameter
	for _, list := range [][]*Parameter{shared, own} {
		for _, p := range list {
			r, err := d.parameter(p)
			if err != nil {
				return nil, err
			}
			k := key{r.In, strings.ToLower(r.Name)}
			if i, ok := seen[k]; ok {
				out[i] = r
				continue
			}
			seen[k] = len(out)
			out = append(out, r)
		}
	}
	return out, nil
}

// Contract is what an operation demands of a request and promises of its
// response. Body references resolve through Document.Schema.
type Contract struct {
	RequiredHeaders []string
	Headers         []string
	RequiredQuery   []string
	Query           []string
	RequestBody     string
	ResponseBody    string
}

// Contract derives the request and response contract of m. Header names are
// lowercased.
func (d *Document) Contract(m *Match) (*Contract, error) {
	c := &Contract{}
	for _, p := range m.Parameters {
		switch p.In {
		case "header":
			name := strings.ToLower(p.Name)
			c.Headers = append(c.Headers, name)
			if p.Required {
				c.RequiredHeaders = append(c.RequiredHeaders, name)
			}
		case "query":
			c.Query = append(c.Query, p.Name)
			if p.Required {
				c.RequiredQuery = append(c.RequiredQuery, p.Name)
			}
		}
	}

	body, err := d.requestBody(m.Operation.RequestBody)
	if err != nil {
		return nil, err
	}
	if body != nil && body.Required {
		if s := jsonSchema(body.Content); s != nil {
			c.RequestBody = d.reference(s, fmt.Sprintf("%s %s#request", m.Method, m.Path))
		}
	}

	if res := successResponse(m.Operation.Responses); res != nil {
		if s := jsonSchema(res.Content); s != nil {
			c.ResponseBody = d.reference(s, fmt.Sprintf("%s %s#response", m.Method, m.Path))
		}
	}
	return c, nil
}

// reference returns the component reference of s, registering inline
// schemas under key.
func (d *Document) reference(s *Schema, key string) string {
	if s.Ref != "" {
		return s.Ref
	}
	return d.register(key, s)
}

func jsonSchema(content map[string]MediaType) *Schema {
	if mt, ok := content["application/json"]; ok && mt.Schema != nil {
		return mt.Schema
	}
	for ct, mt := range content {
		if strings.HasSuffix(ct, "+json") && mt.Schema != nil {
			return mt.Schema
		}
	}
	return nil
}

func successResponse(responses map[string]*Response) *Response {
	for _, code := range []string{"200", "201", "202", "2XX", "default"} {
		if r, ok := responses[code]; ok && r != nil {
			return r
		}
	}
	return nil
}

// Request is the part of a request checked by ValidateRequest.
type Request struct {
	Headers         map[string]string `json:"headers"`
	QueryParameters map[string]string `json:"queryParameters"`
	PathParameters  map[string]string `json:"pathParameters"`
	Body            any               `json:"body"`
}

// ValidateRequest checks the values of the parameters present in req against
// the schemas of the operation serving route and method. Violation paths are
// dotted, e.g. "request.queryParameters.limit". Presence of required
// parameters and the body are covered by Contract and are not checked here.
// A route with no operation yields no violations.
func (d *Document) ValidateRequest(route, method string, req Request) ([]Violation, error) {
	m, ok, err := d.Find(route, method)
	if err != nil || !ok {
		return nil, err
	}

	path := req.PathParameters
	if len(path) == 0 {
		path = m.PathParams
	}

	var out []Violation
	for _, p := range m.Parameters {
		if p.Schema == nil {
			continue
		}
		var (
			values map[string]string
			field  string
			name   = p.Name
		)
		switch p.In {
		case "header":
			values, field, name = lowerKeys(req.Headers), "headers", strings.ToLower(p.Name)
		case "query":
			values, field = req.QueryParameters, "queryParameters"
		case "path":
			values, field = path, "pathParameters"
		default:
			continue
		}
		raw, ok := values[name]
		if !ok {
			continue
		}
		vs, err := d.ValidateSchema(p.Schema, coerce(d, p.Schema, raw))
		if err != nil {
			return nil, err
		}
		for _, v := range vs {
			out = append(out, Violation{Path: "request." + field + "." + name, Message: v.Message})
		}
	}
	return out, nil
}

// coerce converts a raw parameter string to the type its schema declares.
// Values that do not parse are left as strings so the type check reports
// them.
func coerce(d *Document, s *Schema, raw string) any {
	if s.Ref != "" {
		if target, err := d.Schema(s.Ref); err == nil {
			s = target
		}
	}
	switch s.Type {
	case "integer", "number":
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case "array":
		parts := strings.Split(raw, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			if s.Items != nil {
				out[i] = coerce(d, s.Items, p)
			} else {
				out[i] = p
			}
		}
		return out
	}
	return raw
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
