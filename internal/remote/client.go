package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/animat-simulator/internal/sim/runner"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Client invokes methods on objects exported by a remote Registry.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the Objects service at address. The connection is lazy;
// the first call establishes it.
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	all := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}, opts...)
	conn, err := grpc.NewClient(address, all...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Lookup resolves a published name to an object reference.
func (c *Client) Lookup(ctx context.Context, name string) (ObjectRef, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, lookupFullMethod, wrapperspb.String(name), out); err != nil {
		err = fromStatusError(err)
		if errors.Is(err, ErrObjectNotFound) {
			return ObjectRef{}, fmt.Errorf("%w: %q", ErrNameNotBound, name)
		}
		return ObjectRef{}, err
	}
	return ObjectRef{ID: out.GetValue(), Kind: KindSimulation}, nil
}

// Invoke calls method on ref with args and returns the decoded result.
func (c *Client) Invoke(ctx context.Context, ref ObjectRef, method string, args map[string]any) (map[string]any, error) {
	fields := map[string]any{
		fieldID:     ref.ID,
		fieldMethod: method,
	}
	if len(args) > 0 {
		fields[fieldArgs] = args
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, invokeFullMethod, req, out); err != nil {
		return nil, fromStatusError(err)
	}
	return out.AsMap(), nil
}

// InvokeRef calls a method whose result holds a single reference under key.
func (c *Client) InvokeRef(ctx context.Context, ref ObjectRef, method, key string, args map[string]any) (ObjectRef, error) {
	res, err := c.Invoke(ctx, ref, method, args)
	if err != nil {
		return ObjectRef{}, err
	}
	return decodeRef(res[key])
}

// InvokeRefs calls a method whose result holds a list of references under key.
func (c *Client) InvokeRefs(ctx context.Context, ref ObjectRef, method, key string) ([]ObjectRef, error) {
	res, err := c.Invoke(ctx, ref, method, nil)
	if err != nil {
		return nil, err
	}
	list, _ := res[key].([]any)
	out := make([]ObjectRef, 0, len(list))
	for _, v := range list {
		r, err := decodeRef(v)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// SimulationHandle drives a simulation published under a name.
type SimulationHandle struct {
	client *Client
	ref    ObjectRef
}

// Lookup dials address and resolves the simulation published as name.
func Lookup(ctx context.Context, address, name string, opts ...grpc.DialOption) (*SimulationHandle, error) {
	c, err := Dial(address, opts...)
	if err != nil {
		return nil, err
	}
	ref, err := c.Lookup(ctx, name)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return &SimulationHandle{client: c, ref: ref}, nil
}

// Client returns the underlying client, for calls on other objects.
func (h *SimulationHandle) Client() *Client { return h.client }

// Ref returns the simulation reference.
func (h *SimulationHandle) Ref() ObjectRef { return h.ref }

// Close releases the connection.
func (h *SimulationHandle) Close() error { return h.client.Close() }

// Start resumes stepping.
func (h *SimulationHandle) Start(ctx context.Context) (runner.Status, error) {
	return h.status(ctx, "start")
}

// Stop asks the worker to stop after the current step.
func (h *SimulationHandle) Stop(ctx context.Context) (runner.Status, error) {
	return h.status(ctx, "stop")
}

// Status returns the simulation state.
func (h *SimulationHandle) Status(ctx context.Context) (runner.Status, error) {
	return h.status(ctx, "status")
}

// Environment returns a reference to the simulated environment.
func (h *SimulationHandle) Environment(ctx context.Context) (ObjectRef, error) {
	return h.client.InvokeRef(ctx, h.ref, "environment", "environment", nil)
}

// Report returns the current step's report, or the run's cumulative one when
// full is set.
func (h *SimulationHandle) Report(ctx context.Context, full bool) (model.ReportSummary, error) {
	res, err := h.client.Invoke(ctx, h.ref, "report", map[string]any{"full": full})
	if err != nil {
		return model.ReportSummary{}, err
	}
	return decodeReport(res), nil
}

func (h *SimulationHandle) status(ctx context.Context, method string) (runner.Status, error) {
	res, err := h.client.Invoke(ctx, h.ref, method, nil)
	if err != nil {
		return runner.Status{}, err
	}
	return decodeStatus(res)
}

func decodeStatus(m map[string]any) (runner.Status, error) {
	st := runner.Status{}
	st.Running, _ = m["running"].(bool)
	st.Finished, _ = m["finished"].(bool)
	if step, ok := m["step"].(float64); ok {
		st.Step = int(step)
	}
	if ts, ok := m["time"].(string); ok && ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return runner.Status{}, fmt.Errorf("decode status time: %w", err)
		}
		st.Time = t
	}
	return st, nil
}

func decodeReport(m map[string]any) model.ReportSummary {
	s := model.ReportSummary{}
	if n, ok := m["num_animals"].(float64); ok {
		s.NumAnimals = int(n)
	}
	s.PercentOutsideSpatialBounds, _ = m["percent_outside_spatial_bounds"].(float64)
	s.PercentMissingData, _ = m["percent_missing_data"].(float64)
	return s
}
