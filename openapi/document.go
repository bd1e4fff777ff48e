// Package openapi loads OpenAPI 3 documents and validates payloads against
// their schemas.
//
// Schemas are validated as JSON Schema 2020-12 by
// github.com/santhosh-tekuri/jsonschema/v6, with formats asserted. OpenAPI
// 3.0 schemas are accepted too: nullable and the boolean exclusiveMinimum
// and exclusiveMaximum are rewritten before compiling. Violation messages
// follow the wording of the ajv validator so they can be shown to API clients
// unchanged.
package openapi

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ErrUnknownSchema is returned when a schema reference names nothing in the
// document.
var ErrUnknownSchema = errors.New("unknown schema")

// Document is a parsed OpenAPI document.
type Document struct {
	OpenAPI    string              `yaml:"openapi"`
	Info       Info                `yaml:"info"`
	Paths      map[string]PathItem `yaml:"paths"`
	Components Components          `yaml:"components"`

	templates []pathTemplate

	mu      sync.RWMutex
	derived map[string]*Schema

	compileOnce  sync.Once
	compileErr   error
	jsonCompiler *jsonschema.Compiler
	compileMu    sync.Mutex
	compiled     map[string]*jsonschema.Schema
	inlines      int
}

// Info is the document's info block.
type Info struct {
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

// Components holds reusable definitions.
type Components struct {
	Schemas       map[string]*Schema      `yaml:"schemas"`
	Parameters    map[string]*Parameter   `yaml:"parameters"`
	RequestBodies map[string]*RequestBody `yaml:"requestBodies"`
}

// PathItem holds the operations of one path template.
type PathItem struct {
	Parameters []*Parameter
	Operations map[string]*Operation // lowercase verb
}

var verbs = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

// UnmarshalYAML splits the verb keys from the shared parameters.
func (p *PathItem) UnmarshalYAML(n *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := n.Decode(&raw); err != nil {
		return err
	}
	p.Operations = make(map[string]*Operation)
	for k, v := range raw {
		key := strings.ToLower(k)
		switch {
		case key == "parameters":
			if err := v.Decode(&p.Parameters); err != nil {
				return fmt.Errorf("parameters: %w", err)
			}
		case verbs[key]:
			op := new(Operation)
			if err := v.Decode(op); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			p.Operations[key] = op
		}
	}
	return nil
}

// Operation is a single verb of a path.
type Operation struct {
	OperationID string               `yaml:"operationId"`
	Parameters  []*Parameter         `yaml:"parameters"`
	RequestBody *RequestBody         `yaml:"requestBody"`
	Responses   map[string]*Response `yaml:"responses"`
}

// Parameter is a header, query, or path parameter.
type Parameter struct {
	Ref      string  `yaml:"$ref"`
	Name     string  `yaml:"name"`
	In       string  `yaml:"in"`
	Required bool    `yaml:"required"`
	Schema   *Schema `yaml:"schema"`
}

// RequestBody describes the accepted request payloads.
type RequestBody struct {
	Ref      string               `yaml:"$ref"`
	Required bool                 `yaml:"required"`
	Content  map[string]MediaType `yaml:"content"`
}

// Response describes one response status.
type Response struct {
	Description string               `yaml:"description"`
	Content     map[string]MediaType `yaml:"content"`
}

// MediaType wraps the schema of one content type.
type MediaType struct {
	Schema *Schema `yaml:"schema"`
}

// Load reads and parses the document at path. YAML and JSON are both
// accepted.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse parses an OpenAPI document.
func Parse(data []byte) (*Document, error) {
	doc := new(Document)
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	doc.templates = compileTemplates(doc.Paths)
	doc.derived = make(map[string]*Schema)
	return doc, nil
}

// Schema returns the schema a reference names. Both "Name" and
// "#/components/schemas/Name" are accepted.
func (d *Document) Schema(ref string) (*Schema, error) {
	name := strings.TrimPrefix(ref, "#/components/schemas/")
	if s, ok := d.Components.Schemas[name]; ok && s != nil {
		return s, nil
	}
	d.mu.RLock()
	s, ok := d.derived[ref]
	d.mu.RUnlock()
	if ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, ref)
}

// register stores an operation's inline schema under a synthetic reference so
// it can be validated through Schema like a component.
func (d *Document) register(ref string, s *Schema) string {
	d.mu.Lock()
	d.derived[ref] = s
	d.mu.Unlock()
	return ref
}

func (d *Document) parameter(p *Parameter) (*Parameter, error) {
	if p.Ref == "" {
		return p, nil
	}
	name := strings.TrimPrefix(p.Ref, "#/components/parameters/")
	resolved, ok := d.Components.Parameters[name]
	if !ok || resolved == nil {
		return nil, fmt.Errorf("unknown parameter %s", p.Ref)
	}
	return resolved, nil
}

func (d *Document) requestBody(b *RequestBody) (*RequestBody, error) {
	if b == nil || b.Ref == "" {
		return b, nil
	}
	name := strings.TrimPrefix(b.Ref, "#/components/requestBodies/")
	resolved, ok := d.Components.RequestBodies[name]
	if !ok || resolved == nil {
		return nil, fmt.Errorf("unknown request body %s", b.Ref)
	}
	return resolved, nil
}
