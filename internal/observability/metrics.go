package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RemoteCollector bundles Prometheus metrics for the remote object surface and
// provides helpers to wire them into gRPC servers and HTTP handlers.
type RemoteCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	ExportedObjects *prometheus.GaugeVec
	ForcedUnexports prometheus.Counter
	InvocationsByOp *prometheus.CounterVec
}

// NewRemoteCollector registers remote Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewRemoteCollector(reg prometheus.Registerer) (*RemoteCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_requests_total",
		Help: "Total number of handled remote RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "remote_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_request_duration_seconds",
		Help:    "Remote RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "remote_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	exported := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "remote_exported_objects",
		Help: "Number of objects currently reachable remotely, labeled by kind.",
	}, []string{"kind"})
	exported, err = registerGaugeVec(reg, exported, "remote_exported_objects")
	if err != nil {
		return nil, err
	}

	forced, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remote_forced_unexports_total",
		Help: "Unexports that gave up waiting for in-flight calls and removed the binding anyway.",
	}), "remote_forced_unexports_total")
	if err != nil {
		return nil, err
	}

	invocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_invocations_total",
		Help: "Remote object method invocations, labeled by object kind and method.",
	}, []string{"kind", "op"})
	invocations, err = registerCounterVec(reg, invocations, "remote_invocations_total")
	if err != nil {
		return nil, err
	}

	return &RemoteCollector{
		gatherer:        gatherer,
		RPCRequests:     requests,
		RPCDurations:    durations,
		ExportedObjects: exported,
		ForcedUnexports: forced,
		InvocationsByOp: invocations,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *RemoteCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RemoteCollector) Handler() http.Handler {
	return handlerFor(c.gatherer)
}

// SetExportedObjects sets the number of exported objects of one kind.
func (c *RemoteCollector) SetExportedObjects(kind string, n int) {
	if c == nil || c.ExportedObjects == nil {
		return
	}
	c.ExportedObjects.WithLabelValues(kind).Set(float64(n))
}

// IncForcedUnexports counts an unexport that timed out waiting for callers.
func (c *RemoteCollector) IncForcedUnexports() {
	if c == nil || c.ForcedUnexports == nil {
		return
	}
	c.ForcedUnexports.Inc()
}

// IncInvocation counts one remote method call on an object.
func (c *RemoteCollector) IncInvocation(kind, op string) {
	if c == nil || c.InvocationsByOp == nil {
		return
	}
	c.InvocationsByOp.WithLabelValues(kind, op).Inc()
}

func handlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
