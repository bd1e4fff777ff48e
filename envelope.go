package gateway

import (
	"errors"
	"fmt"
)

// ErrNoSource is returned by Router.Handle when no event source understands
// the envelope and no OnNoSource hook is registered.
var ErrNoSource = errors.New("no event source matched envelope")

// EventSource translates one gateway envelope format into an Event.
//
// The router calls Discriminator before Parse so that detection stays cheap.
// The built-in sources cover API Gateway REST APIs, API Gateway HTTP APIs and
// Application Load Balancer targets.
//
// Example:
//
//	type legacySource struct{}
//
//	func (legacySource) Name() string { return "legacy" }
//
//	func (legacySource) Discriminator() gateway.Discriminator {
//	    return gateway.HasFields("verb", "uri")
//	}
//
//	func (legacySource) Parse(raw []byte) (gateway.Event, error) {
//	    var env struct{ Verb, URI string }
//	    if err := json.Unmarshal(raw, &env); err != nil {
//	        return gateway.Event{}, err
//	    }
//	    return gateway.Event{Method: env.Verb, Path: env.URI}, nil
//	}
type EventSource interface {
	// Name identifies the source in logs.
	Name() string

	// Discriminator reports whether an envelope belongs to this source.
	Discriminator() Discriminator

	// Parse converts the envelope into an Event.
	Parse(raw []byte) (Event, error)
}

// SourceFunc creates an EventSource from a name, discriminator, and parse
// function.
func SourceFunc(name string, disc Discriminator, parse func([]byte) (Event, error)) EventSource {
	return &sourceFunc{name: name, disc: disc, parse: parse}
}

type sourceFunc struct {
	name  string
	disc  Discriminator
	parse func([]byte) (Event, error)
}

func (s *sourceFunc) Name() string                    { return s.name }
func (s *sourceFunc) Discriminator() Discriminator    { return s.disc }
func (s *sourceFunc) Parse(raw []byte) (Event, error) { return s.parse(raw) }

// DefaultSources returns the built-in sources in matching order.
func DefaultSources() []EventSource {
	return []EventSource{HTTPAPISource(), RESTAPISource(), ALBSource()}
}

// RESTAPISource parses API Gateway REST API (payload format 1.0) proxy
// events.
func RESTAPISource() EventSource {
	return SourceFunc(
		"apigateway-rest",
		And(
			HasFields("httpMethod", "path", "requestContext.requestId"),
			Not(HasFields("requestContext.elb")),
		),
		func(raw []byte) (Event, error) {
			v := jsonView{raw: raw}
			id, _ := v.GetString("requestContext.requestId")
			return parseProxyEvent(v, id)
		},
	)
}

// HTTPAPISource parses API Gateway HTTP API (payload format 2.0) events.
func HTTPAPISource() EventSource {
	return SourceFunc(
		"apigateway-http",
		And(FieldEquals("version", "2.0"), HasFields("requestContext.http.method", "rawPath")),
		func(raw []byte) (Event, error) {
			v := jsonView{raw: raw}
			method, _ := v.GetString("requestContext.http.method")
			path, _ := v.GetString("rawPath")
			id, _ := v.GetString("requestContext.requestId")
			body, err := parseBody(v)
			if err != nil {
				return Event{}, err
			}
			return Event{
				ID:         id,
				Method:     method,
				Path:       path,
				Headers:    v.GetStringMap("headers"),
				Query:      v.GetStringMap("queryStringParameters"),
				PathParams: v.GetStringMap("pathParameters"),
				Body:       body,
			}, nil
		},
	)
}

// ALBSource parses Application Load Balancer target events.
func ALBSource() EventSource {
	return SourceFunc(
		"alb",
		HasFields("httpMethod", "path", "requestContext.elb"),
		func(raw []byte) (Event, error) {
			v := jsonView{raw: raw}
			headers := v.GetStringMap("headers")
			return parseProxyEvent(v, headers["x-amzn-trace-id"])
		},
	)
}

// parseProxyEvent reads the fields shared by REST API and ALB envelopes.
func parseProxyEvent(v jsonView, id string) (Event, error) {
	method, _ := v.GetString("httpMethod")
	path, _ := v.GetString("path")
	body, err := parseBody(v)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         id,
		Method:     method,
		Path:       path,
		Headers:    v.GetStringMap("headers"),
		Query:      v.GetStringMap("queryStringParameters"),
		PathParams: v.GetStringMap("pathParameters"),
		Body:       body,
	}, nil
}

func parseBody(v jsonView) (any, error) {
	body, _ := v.GetString("body")
	encoded, _ := v.GetString("isBase64Encoded")
	out, err := decodeBody(body, encoded == "true")
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return out, nil
}
