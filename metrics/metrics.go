// Package metrics records Prometheus metrics for a gateway.Router through its
// completion hooks.
//
// Metrics collected:
//   - gateway_requests_total: Counter of requests by handler, method and status
//   - gateway_request_duration_seconds: Histogram of request duration by handler and method
//   - gateway_request_failures_total: Counter of hook and handler failures by handler and kind
//   - gateway_resolution_cache_entries: Gauge of cached resolutions (see Observer.WatchCache)
//
// Example:
//
//	obs := metrics.New(metrics.WithNamespace("billing"))
//	r := gateway.New(cfg, obs.Options()...)
//	if err := obs.WatchCache(r.Resolver()); err != nil {
//	    log.Fatal(err)
//	}
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bjaus/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Unresolved is the handler label of requests that never reached a handler
// module (unknown routes and configuration errors).
const Unresolved = "unresolved"

// Config configures an Observer.
type Config struct {
	// Namespace is the metrics namespace (default: "gateway").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures an Observer.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "gateway",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Observer holds the Prometheus collectors fed by router hooks.
type Observer struct {
	config   Config
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// New registers the collectors with the configured registry. Registering
// twice with the same registry panics, as promauto does.
func New(opts ...Option) *Observer {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Observer{
		config: config,

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of routed requests",
			ConstLabels: config.ConstLabels,
		}, []string{"handler", "method", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Request duration in seconds, from receipt to final response",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"handler", "method"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_failures_total",
			Help:        "Total number of hook and handler failures",
			ConstLabels: config.ConstLabels,
		}, []string{"handler", "kind"}),
	}
}

// Options returns the router options that feed the Observer.
func (o *Observer) Options() []gateway.Option {
	return []gateway.Option{
		gateway.WithOnComplete(o.OnComplete),
		gateway.WithOnFailure(o.OnFailure),
	}
}

// OnComplete records the request count and duration.
func (o *Observer) OnComplete(_ context.Context, req *gateway.Request, res *gateway.Response, d time.Duration) {
	handler, method := handlerLabel(req), methodLabel(req.Method)
	o.requests.WithLabelValues(handler, method, strconv.Itoa(res.Code)).Inc()
	o.duration.WithLabelValues(handler, method).Observe(d.Seconds())
}

// OnFailure counts failures by kind. The kind of a *gateway.Error is
// "request", "config" or "route"; any other failure, panics included, is
// "error".
func (o *Observer) OnFailure(_ context.Context, req *gateway.Request, err error, _ time.Duration) {
	o.failures.WithLabelValues(handlerLabel(req), failureKind(err)).Inc()
}

// WatchCache exports the number of cached resolutions of res as a gauge.
// It does nothing when res has no resolution cache.
func (o *Observer) WatchCache(res gateway.Resolver) error {
	cache, ok := res.(*gateway.CachingResolver)
	if !ok {
		return nil
	}
	return o.config.Registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   o.config.Namespace,
		Subsystem:   o.config.Subsystem,
		Name:        "resolution_cache_entries",
		Help:        "Number of cached route resolutions",
		ConstLabels: o.config.ConstLabels,
	}, func() float64 {
		return float64(cache.Len())
	}))
}

func handlerLabel(req *gateway.Request) string {
	if req.Handler == "" {
		return Unresolved
	}
	return req.Handler
}

// knownMethods are the verbs exported as they are; any other is "other".
var knownMethods = map[string]bool{
	"get": true, "head": true, "post": true, "put": true, "patch": true,
	"delete": true, "options": true, "trace": true, "connect": true,
}

func methodLabel(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

func failureKind(err error) string {
	var e *gateway.Error
	if !errors.As(err, &e) {
		return "error"
	}
	switch e.Kind {
	case gateway.KindConfig:
		return "config"
	case gateway.KindRoute:
		return "route"
	default:
		return "request"
	}
}
