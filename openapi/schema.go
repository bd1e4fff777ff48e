package openapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

const (
	componentPrefix = "#/components/schemas/"
	documentURL     = "mem:///openapi.json"
)

// Schema is a JSON Schema object as used by OpenAPI 3. The keywords the
// package reads itself are decoded; the whole object is kept for validation.
type Schema struct {
	Ref      string
	Type     string
	Format   string
	Nullable bool
	Items    *Schema

	raw map[string]any
}

// UnmarshalYAML keeps the schema object as decoded.
func (s *Schema) UnmarshalYAML(n *yaml.Node) error {
	var raw map[string]any
	if err := n.Decode(&raw); err != nil {
		return err
	}
	*s = *schemaFromRaw(raw)
	return nil
}

func schemaFromRaw(raw map[string]any) *Schema {
	s := &Schema{raw: raw}
	s.Ref, _ = raw["$ref"].(string)
	s.Type, _ = raw["type"].(string)
	s.Format, _ = raw["format"].(string)
	s.Nullable, _ = raw["nullable"].(bool)
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = schemaFromRaw(items)
	}
	return s
}

// SchemaFromMap converts a decoded schema object (as found in Go code or
// JSON) into a Schema.
func SchemaFromMap(m map[string]any) (*Schema, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode inline schema: %w", err)
	}
	s := new(Schema)
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("decode inline schema: %w", err)
	}
	return s, nil
}

// Violation is one failed keyword. Path is a JSON pointer into the validated
// value ("" for the value itself).
type Violation struct {
	Path    string
	Message string
}

// Validate checks value against the schema named by ref.
func (d *Document) Validate(ref string, value any) ([]Violation, error) {
	s, err := d.Schema(ref)
	if err != nil {
		return nil, err
	}
	if name, ok := d.componentName(ref); ok {
		if err := d.checkRefs(s.raw, map[string]bool{name: true}); err != nil {
			return nil, err
		}
		compiled, err := d.compileComponent(name)
		if err != nil {
			return nil, err
		}
		return run(compiled, value)
	}
	return d.ValidateSchema(s, value)
}

// ValidateSchema checks value against s. References to component schemas
// resolve through the document.
func (d *Document) ValidateSchema(s *Schema, value any) ([]Violation, error) {
	if err := d.checkRefs(s.raw, map[string]bool{}); err != nil {
		return nil, err
	}
	compiled, err := d.compileInline(s)
	if err != nil {
		return nil, err
	}
	return run(compiled, value)
}

func (d *Document) componentName(ref string) (string, bool) {
	name := strings.TrimPrefix(ref, componentPrefix)
	s, ok := d.Components.Schemas[name]
	return name, ok && s != nil
}

// checkRefs reports references to schemas the document lacks, and chains of
// bare references that loop back on themselves.
func (d *Document) checkRefs(v any, seen map[string]bool) error {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := val["$ref"].(string); ok && strings.HasPrefix(ref, componentPrefix) {
			name := strings.TrimPrefix(ref, componentPrefix)
			target, ok := d.Components.Schemas[name]
			if !ok || target == nil {
				return fmt.Errorf("%w: %s", ErrUnknownSchema, ref)
			}
			if err := d.checkBareChain(name); err != nil {
				return err
			}
			if !seen[name] {
				seen[name] = true
				if err := d.checkRefs(target.raw, seen); err != nil {
					return err
				}
			}
		}
		for k, child := range val {
			if literalKeywords[k] {
				continue
			}
			if err := d.checkRefs(child, seen); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range val {
			if err := d.checkRefs(child, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Document) checkBareChain(name string) error {
	visited := map[string]bool{}
	for {
		if visited[name] {
			return fmt.Errorf("schema reference cycle at %s%s", componentPrefix, name)
		}
		visited[name] = true
		target := d.Components.Schemas[name]
		if target == nil || len(target.raw) != 1 {
			return nil
		}
		ref, ok := target.raw["$ref"].(string)
		if !ok || !strings.HasPrefix(ref, componentPrefix) {
			return nil
		}
		name = strings.TrimPrefix(ref, componentPrefix)
	}
}

// literalKeywords hold instance values, not subschemas.
var literalKeywords = map[string]bool{
	"enum": true, "const": true, "default": true, "example": true, "examples": true,
}

func (d *Document) compiler() (*jsonschema.Compiler, error) {
	d.compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.DefaultDraft(jsonschema.Draft2020)
		c.AssertFormat()
		for _, f := range openAPIFormats {
			c.RegisterFormat(f)
		}

		defs := make(map[string]any, len(d.Components.Schemas))
		for name, s := range d.Components.Schemas {
			if s == nil {
				continue
			}
			v, err := toJSON(s.raw)
			if err != nil {
				d.compileErr = fmt.Errorf("schema %s: %w", name, err)
				return
			}
			defs[name] = translate(v, "")
		}
		if err := c.AddResource(documentURL, map[string]any{"$defs": defs}); err != nil {
			d.compileErr = fmt.Errorf("load component schemas: %w", err)
			return
		}
		d.jsonCompiler = c
		d.compiled = make(map[string]*jsonschema.Schema)
	})
	return d.jsonCompiler, d.compileErr
}

func (d *Document) compileComponent(name string) (*jsonschema.Schema, error) {
	c, err := d.compiler()
	if err != nil {
		return nil, err
	}
	key := "#" + name

	d.compileMu.Lock()
	defer d.compileMu.Unlock()
	if s, ok := d.compiled[key]; ok {
		return s, nil
	}
	s, err := c.Compile(documentURL + "#/$defs/" + pointerEscape(name))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s%s: %w", componentPrefix, name, err)
	}
	d.compiled[key] = s
	return s, nil
}

// compileInline compiles a schema that is not a component. Identical
// schemas share one compilation.
func (d *Document) compileInline(s *Schema) (*jsonschema.Schema, error) {
	c, err := d.compiler()
	if err != nil {
		return nil, err
	}
	raw := s.raw
	if raw == nil {
		raw = map[string]any{}
	}
	v, err := toJSON(raw)
	if err != nil {
		return nil, err
	}
	v = translate(v, documentURL)
	key, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	d.compileMu.Lock()
	defer d.compileMu.Unlock()
	if s, ok := d.compiled[string(key)]; ok {
		return s, nil
	}
	d.inlines++
	url := fmt.Sprintf("mem:///inline/%d.json", d.inlines)
	if err := c.AddResource(url, v); err != nil {
		return nil, fmt.Errorf("load inline schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	d.compiled[string(key)] = compiled
	return compiled, nil
}

// translate rewrites OpenAPI 3.0 dialect into JSON Schema 2020-12: component
// references point into the $defs of the document resource, nullable widens
// the type, and boolean exclusive bounds become numeric ones. base prefixes
// rewritten references for schemas outside the document resource.
func translate(v any, base string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if literalKeywords[k] {
				out[k] = child
				continue
			}
			out[k] = translate(child, base)
		}
		if ref, ok := out["$ref"].(string); ok && strings.HasPrefix(ref, componentPrefix) {
			out["$ref"] = base + "#/$defs/" + pointerEscape(strings.TrimPrefix(ref, componentPrefix))
		}
		exclusiveBound(out, "exclusiveMinimum", "minimum")
		exclusiveBound(out, "exclusiveMaximum", "maximum")
		if nullable, ok := out["nullable"].(bool); ok {
			delete(out, "nullable")
			if nullable {
				return widenNullable(out)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = translate(child, base)
		}
		return out
	default:
		return v
	}
}

func exclusiveBound(s map[string]any, exclusive, bound string) {
	flag, ok := s[exclusive].(bool)
	if !ok {
		return
	}
	delete(s, exclusive)
	if limit, ok := s[bound]; ok && flag {
		s[exclusive] = limit
		delete(s, bound)
	}
}

func widenNullable(s map[string]any) map[string]any {
	switch t := s["type"].(type) {
	case string:
		s["type"] = []any{t, "null"}
	case []any:
		s["type"] = append(t, "null")
	default:
		if _, ok := s["$ref"]; ok {
			return map[string]any{"anyOf": []any{map[string]any{"type": "null"}, s}}
		}
	}
	return s
}

// toJSON converts v into the values jsonschema validates: maps, slices,
// strings, booleans, nil and json.Number.
func toJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	out, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func run(s *jsonschema.Schema, value any) ([]Violation, error) {
	value, err := toJSON(value)
	if err != nil {
		return nil, err
	}
	err = s.Validate(value)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	var out []Violation
	collect(verr, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// collect flattens the error tree into its leaves. anyOf and oneOf report
// once for the combined failure.
func collect(e *jsonschema.ValidationError, out *[]Violation) {
	switch e.ErrorKind.(type) {
	case *kind.AnyOf, *kind.OneOf:
		*out = append(*out, Violation{Path: pointer(e.InstanceLocation), Message: describe(e.ErrorKind)})
		return
	}
	if len(e.Causes) == 0 {
		ptr := pointer(e.InstanceLocation)
		switch k := e.ErrorKind.(type) {
		case *kind.Required:
			for _, name := range k.Missing {
				*out = append(*out, Violation{Path: ptr, Message: fmt.Sprintf("must have required property '%s'", name)})
			}
		case *kind.AdditionalProperties:
			for range k.Properties {
				*out = append(*out, Violation{Path: ptr, Message: "must NOT have additional properties"})
			}
		default:
			*out = append(*out, Violation{Path: ptr, Message: describe(k)})
		}
		return
	}
	for _, cause := range e.Causes {
		collect(cause, out)
	}
}

var printer = message.NewPrinter(language.English)

// describe words a failed keyword the way ajv does.
func describe(k jsonschema.ErrorKind) string {
	switch k := k.(type) {
	case *kind.Type:
		want := make([]string, 0, len(k.Want))
		for _, t := range k.Want {
			if t != "null" || len(k.Want) == 1 {
				want = append(want, t)
			}
		}
		return "must be " + strings.Join(want, ",")
	case *kind.Enum:
		return "must be equal to one of the allowed values"
	case *kind.Const:
		return "must be equal to constant"
	case *kind.Format:
		return fmt.Sprintf("must match format \"%s\"", k.Want)
	case *kind.MinLength:
		return fmt.Sprintf("must NOT have fewer than %d characters", k.Want)
	case *kind.MaxLength:
		return fmt.Sprintf("must NOT have more than %d characters", k.Want)
	case *kind.Pattern:
		return fmt.Sprintf("must match pattern \"%s\"", k.Want)
	case *kind.Minimum:
		return "must be >= " + ratString(k.Want)
	case *kind.Maximum:
		return "must be <= " + ratString(k.Want)
	case *kind.ExclusiveMinimum:
		return "must be > " + ratString(k.Want)
	case *kind.ExclusiveMaximum:
		return "must be < " + ratString(k.Want)
	case *kind.MultipleOf:
		return "must be multiple of " + ratString(k.Want)
	case *kind.MinItems:
		return fmt.Sprintf("must NOT have fewer than %d items", k.Want)
	case *kind.MaxItems:
		return fmt.Sprintf("must NOT have more than %d items", k.Want)
	case *kind.UniqueItems:
		return fmt.Sprintf("must NOT have duplicate items (items ## %d and %d are identical)", k.Duplicates[1], k.Duplicates[0])
	case *kind.MinProperties:
		return fmt.Sprintf("must NOT have fewer than %d properties", k.Want)
	case *kind.MaxProperties:
		return fmt.Sprintf("must NOT have more than %d properties", k.Want)
	case *kind.Not:
		return "must NOT be valid"
	case *kind.AnyOf:
		return "must match a schema in anyOf"
	case *kind.OneOf:
		return "must match exactly one schema in oneOf"
	case *kind.FalseSchema:
		return "boolean schema is false"
	default:
		return k.LocalizedString(printer)
	}
}

func ratString(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	f, _ := r.Float64()
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func pointer(tokens []string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(pointerEscape(t))
	}
	return b.String()
}

func pointerEscape(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// openAPIFormats are the OpenAPI numeric formats JSON Schema leaves
// undefined.
var openAPIFormats = []*jsonschema.Format{
	{Name: "int32", Validate: intFormat(math.MinInt32, math.MaxInt32)},
	{Name: "int64", Validate: intFormat(math.MinInt64, math.MaxInt64)},
}

func intFormat(lo, hi int64) func(any) error {
	return func(v any) error {
		n, ok := v.(json.Number)
		if !ok {
			return nil
		}
		r, ok := new(big.Rat).SetString(n.String())
		if !ok || !r.IsInt() {
			return nil
		}
		if !r.Num().IsInt64() || r.Num().Int64() < lo || r.Num().Int64() > hi {
			return fmt.Errorf("%s is out of range", n)
		}
		return nil
	}
}
