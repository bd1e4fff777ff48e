package gateway

import (
	"strings"

	"github.com/google/uuid"
)

// Event is the transport-neutral description of an inbound request. Sources
// translate gateway envelopes into Events; callers with their own adapters
// can build one directly.
type Event struct {
	// ID correlates the request in logs. A random UUID is used when empty.
	ID string

	Method     string
	Path       string
	Headers    map[string]string
	Query      map[string]string
	PathParams map[string]string

	// Body is the decoded payload (typically the result of json.Unmarshal
	// into any).
	Body any
}

// Request is the per-invocation view of an Event handed to hooks and handlers.
//
// Request is read-only once constructed, except for PathParams and Handler
// which route resolution fills in.
type Request struct {
	ID         string
	Method     string
	Route      string
	Headers    map[string]string
	Query      map[string]string
	PathParams map[string]string
	Body       any

	// Handler is the module path of the resolved handler, e.g.
	// "users/{id}". It is a low-cardinality label for logs and metrics.
	Handler string
}

// NewRequest builds a Request from ev. The method is lowercased, header names
// are lowercased, and the route has its leading and trailing slashes removed
// along with basePath when the route starts with it.
func NewRequest(ev Event, basePath string) *Request {
	id := ev.ID
	if id == "" {
		id = uuid.NewString()
	}

	headers := make(map[string]string, len(ev.Headers))
	for k, v := range ev.Headers {
		headers[strings.ToLower(k)] = v
	}

	return &Request{
		ID:         id,
		Method:     strings.ToLower(strings.TrimSpace(ev.Method)),
		Route:      trimBasePath(cleanPath(ev.Path), cleanPath(basePath)),
		Headers:    headers,
		Query:      copyParams(ev.Query),
		PathParams: copyParams(ev.PathParams),
		Body:       ev.Body,
	}
}

// Header returns the named header; the lookup is case-insensitive.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

// Segments returns the route split on "/". An empty route has no segments.
func (r *Request) Segments() []string {
	if r.Route == "" {
		return nil
	}
	return strings.Split(r.Route, "/")
}

// cleanPath strips one leading and one trailing slash.
func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	return p
}

func trimBasePath(route, base string) string {
	if base == "" {
		return route
	}
	if route == base {
		return ""
	}
	if strings.HasPrefix(route, base+"/") {
		return route[len(base)+1:]
	}
	return route
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
