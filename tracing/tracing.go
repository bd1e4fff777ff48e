// Package tracing records an OpenTelemetry span for every request a
// gateway.Router serves.
//
// The span starts when the request enters the router and ends with the final
// response. It is named after the resolved handler ("get users/{id}"), so
// routes sharing a handler share a span name. Failures raised by hooks or
// handlers are recorded on the span, and 5xx responses mark it as an error.
//
// Example:
//
//	obs := tracing.New(tracing.WithTracerName("billing"))
//	r := gateway.New(cfg, obs.Options()...)
//
// The tracer comes from the global provider unless WithTracerProvider is
// used. Configure it in main() before serving:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
package tracing

import (
	"context"
	"time"

	"github.com/bjaus/gateway"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "github.com/bjaus/gateway"

// Attribute keys set on request spans.
const (
	AttrRequestID  = attribute.Key("gateway.request_id")
	AttrHandler    = attribute.Key("gateway.handler")
	AttrMethod     = attribute.Key("http.request.method")
	AttrRoute      = attribute.Key("gateway.route")
	AttrStatusCode = attribute.Key("http.response.status_code")
)

// Config configures an Observer.
type Config struct {
	// TracerName is the name of the tracer (default: the gateway module path).
	TracerName string

	// Provider supplies the tracer. Default: otel.GetTracerProvider()
	Provider trace.TracerProvider

	// Attributes extracts custom attributes when the span starts.
	Attributes func(req *gateway.Request) []attribute.KeyValue
}

// Option configures an Observer.
type Option func(*Config)

// WithTracerName sets the tracer name.
func WithTracerName(name string) Option {
	return func(c *Config) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the provider the tracer is taken from.
func WithTracerProvider(p trace.TracerProvider) Option {
	return func(c *Config) {
		c.Provider = p
	}
}

// WithAttributes sets a custom attribute extractor.
func WithAttributes(fn func(req *gateway.Request) []attribute.KeyValue) Option {
	return func(c *Config) {
		c.Attributes = fn
	}
}

// Observer starts and ends request spans from router hooks.
type Observer struct {
	config Config
	tracer trace.Tracer
}

// New returns an Observer.
func New(opts ...Option) *Observer {
	config := Config{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Provider == nil {
		config.Provider = otel.GetTracerProvider()
	}
	return &Observer{
		config: config,
		tracer: config.Provider.Tracer(config.TracerName),
	}
}

// Options returns the router options that drive the spans.
func (o *Observer) Options() []gateway.Option {
	return []gateway.Option{
		gateway.WithOnReceive(o.OnReceive),
		gateway.WithOnDispatch(o.OnDispatch),
		gateway.WithOnFailure(o.OnFailure),
		gateway.WithOnComplete(o.OnComplete),
	}
}

// OnReceive starts the request span and returns a context carrying it.
func (o *Observer) OnReceive(ctx context.Context, req *gateway.Request) context.Context {
	attrs := []attribute.KeyValue{
		AttrRequestID.String(req.ID),
		AttrMethod.String(req.Method),
		AttrRoute.String(req.Route),
	}
	if o.config.Attributes != nil {
		attrs = append(attrs, o.config.Attributes(req)...)
	}
	ctx, _ = o.tracer.Start(ctx, "gateway "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx
}

// OnDispatch marks the moment the handler starts, after hooks and validation.
func (o *Observer) OnDispatch(ctx context.Context, req *gateway.Request) {
	trace.SpanFromContext(ctx).AddEvent("dispatch", trace.WithAttributes(AttrHandler.String(req.Handler)))
}

// OnFailure records err on the request span.
func (o *Observer) OnFailure(ctx context.Context, _ *gateway.Request, err error, _ time.Duration) {
	trace.SpanFromContext(ctx).RecordError(err)
}

// OnComplete names the span after the resolved handler, sets its status and
// ends it.
func (o *Observer) OnComplete(ctx context.Context, req *gateway.Request, res *gateway.Response, _ time.Duration) {
	span := trace.SpanFromContext(ctx)
	if req.Handler != "" {
		span.SetName(req.Method + " " + req.Handler)
		span.SetAttributes(AttrHandler.String(req.Handler))
	}
	span.SetAttributes(AttrStatusCode.Int(res.Code))
	if res.Code >= 500 {
		msg := "internal server error"
		if errs := res.Errors(); len(errs) > 0 {
			msg = errs[0].Message
		}
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
