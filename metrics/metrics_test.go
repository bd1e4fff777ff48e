package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bjaus/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type ObserverSuite struct {
	suite.Suite
	ctx context.Context
	reg *prometheus.Registry
	obs *Observer
}

func TestObserverSuite(t *testing.T) {
	suite.Run(t, new(ObserverSuite))
}

func (s *ObserverSuite) SetupTest() {
	s.ctx = context.Background()
	s.reg = prometheus.NewRegistry()
	s.obs = New(WithRegistry(s.reg))
}

func (s *ObserverSuite) newRouter(cfg gateway.Config, opts ...gateway.Option) *gateway.Router {
	ok := gateway.HandlerFunc(func(ctx context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
		res.Body = "ok"
		return res, nil
	})
	broken := gateway.HandlerFunc(func(ctx context.Context, req *gateway.Request, res *gateway.Response) (*gateway.Response, error) {
		return nil, errors.New("db down")
	})
	cfg.HandlerList = map[string]gateway.Module{
		"users/{id}": {"get": ok},
		"broken":     {"get": broken},
		"private":    {"get": ok},
	}
	r := gateway.New(cfg, append(s.obs.Options(), opts...)...)
	s.Require().NoError(r.Err())
	return r
}

func (s *ObserverSuite) TestRequestsAndDuration() {
	r := s.newRouter(gateway.Config{})

	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "users/1"})
	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "users/2"})
	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "teams"})
	r.Route(s.ctx, gateway.Event{Method: "POST", Path: "users/1"})

	s.Assert().Equal(2.0, testutil.ToFloat64(s.obs.requests.WithLabelValues("users/{id}", "get", "200")))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.obs.requests.WithLabelValues(Unresolved, "get", "404")))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.obs.requests.WithLabelValues("users/{id}", "post", "403")))
	s.Assert().Equal(3, testutil.CollectAndCount(s.obs.requests))
	s.Assert().Equal(3, testutil.CollectAndCount(s.obs.duration), "one histogram per handler and method")
}

func (s *ObserverSuite) TestUnknownMethodsShareOneLabel() {
	r := s.newRouter(gateway.Config{})

	r.Route(s.ctx, gateway.Event{Method: "PROPFIND", Path: "users/1"})
	r.Route(s.ctx, gateway.Event{Method: "X-RANDOM-1", Path: "users/1"})
	r.Route(s.ctx, gateway.Event{Method: "X-RANDOM-2", Path: "users/1"})

	s.Assert().Equal(3.0, testutil.ToFloat64(s.obs.requests.WithLabelValues("users/{id}", "other", "403")))
	s.Assert().Equal(1, testutil.CollectAndCount(s.obs.requests))
}

func (s *ObserverSuite) TestFailures() {
	r := s.newRouter(gateway.Config{}, gateway.WithAuth(func(ctx context.Context, req *gateway.Request, res *gateway.Response) error {
		if req.Route == "private" {
			return gateway.NewError(401, "authorization", "missing credentials")
		}
		return nil
	}))

	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "broken"})
	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "private"})
	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "users/1"})

	s.Assert().Equal(1.0, testutil.ToFloat64(s.obs.failures.WithLabelValues("broken", "error")))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.obs.failures.WithLabelValues("private", "request")))
	s.Assert().Equal(2, testutil.CollectAndCount(s.obs.failures))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.obs.requests.WithLabelValues("broken", "get", "500")))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.obs.requests.WithLabelValues("private", "get", "401")))
}

func (s *ObserverSuite) TestWatchCache() {
	r := s.newRouter(gateway.Config{CacheMode: gateway.CacheAll})
	s.Require().NoError(s.obs.WatchCache(r.Resolver()))

	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "users/1"})
	r.Route(s.ctx, gateway.Event{Method: "GET", Path: "private"})

	expected := `
# HELP gateway_resolution_cache_entries Number of cached route resolutions
# TYPE gateway_resolution_cache_entries gauge
gateway_resolution_cache_entries 2
`
	s.Assert().NoError(testutil.GatherAndCompare(s.reg, strings.NewReader(expected), "gateway_resolution_cache_entries"))
}

func (s *ObserverSuite) TestWatchCacheWithoutCache() {
	r := s.newRouter(gateway.Config{})

	s.Require().NoError(s.obs.WatchCache(r.Resolver()))

	n, err := testutil.GatherAndCount(s.reg, "gateway_resolution_cache_entries")
	s.Require().NoError(err)
	s.Assert().Zero(n)
}

func (s *ObserverSuite) TestNamespaceAndConstLabels() {
	reg := prometheus.NewRegistry()
	obs := New(
		WithRegistry(reg),
		WithNamespace("billing"),
		WithSubsystem("api"),
		WithConstLabels(prometheus.Labels{"region": "eu"}),
		WithBuckets([]float64{0.1, 1}),
	)
	obs.OnComplete(s.ctx, &gateway.Request{Method: "get", Handler: "health"}, gateway.NewResponse(), 0)

	n, err := testutil.GatherAndCount(reg, "billing_api_requests_total", "billing_api_request_duration_seconds")
	s.Require().NoError(err)
	s.Assert().Equal(2, n)
}

func TestFailureKind(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"plain error": {errors.New("boom"), "error"},
		"request":     {gateway.NewError(409, "conflict", "exists"), "request"},
		"config":      {gateway.ConfigError("bad tree"), "config"},
		"route":       {gateway.ErrNotFound, "route"},
		"wrapped":     {errors.Join(errors.New("ctx"), gateway.ConfigError("bad")), "config"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := failureKind(tt.err); got != tt.want {
				t.Errorf("failureKind() = %q, want %q", got, tt.want)
			}
		})
	}
}
