package gateway

// Contract names the schema a payload must satisfy: either a reference into
// the schema document (Ref) or an inline schema (Schema).
type Contract struct {
	Ref    string
	Schema map[string]any
}

// Ref returns a Contract referring to a named schema.
func Ref(name string) *Contract {
	return &Contract{Ref: name}
}

// Inline returns a Contract carrying its own schema.
func Inline(schema map[string]any) *Contract {
	return &Contract{Schema: schema}
}

// String returns the reference or "inline".
func (c *Contract) String() string {
	if c == nil {
		return ""
	}
	if c.Ref != "" {
		return c.Ref
	}
	return "inline"
}

// Requirement is the validation contract for one (route, method) pair.
// A nil Requirement means no constraints.
type Requirement struct {
	// RequiredHeaders must all be present (names are matched lowercased).
	RequiredHeaders []string

	// AvailableHeaders, when set, is the full set of headers the request may
	// carry.
	AvailableHeaders []string

	// RequiredQuery must all be present in the query string.
	RequiredQuery []string

	// AvailableQuery, when set, is the full set of query parameters the
	// request may carry.
	AvailableQuery []string

	// RequiredBody is checked against the request body by the schema engine.
	RequiredBody *Contract

	// ResponseBody is checked against the handler's response body.
	ResponseBody *Contract
}

// RequirementProvider is implemented by handlers that declare a Requirement.
type RequirementProvider interface {
	Requirements() *Requirement
}
