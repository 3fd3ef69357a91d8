package remote

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/observability"
)

// ServiceName is the gRPC service exposing exported objects.
const ServiceName = "animat.remote.v1.Objects"

const (
	invokeFullMethod = "/" + ServiceName + "/Invoke"
	lookupFullMethod = "/" + ServiceName + "/Lookup"
)

// Invoke request fields.
const (
	fieldID     = "id"
	fieldMethod = "method"
	fieldArgs   = "args"
)

// objectsServer is the handler type of the Objects service. Requests and
// responses use protobuf well-known types so no generated code is needed.
type objectsServer interface {
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Lookup(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

var objectsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*objectsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
		{MethodName: "Lookup", Handler: lookupHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "animat/remote/v1/objects.proto",
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(objectsServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(objectsServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(objectsServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: lookupFullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(objectsServer).Lookup(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Server serves a Registry over gRPC.
type Server struct {
	registry *Registry
	log      logging.Logger
}

// NewServer binds a server to registry.
func NewServer(registry *Registry, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{registry: registry, log: log}
}

// Register attaches the Objects service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&objectsServiceDesc, s)
}

// Invoke runs one method call on an exported object.
func (s *Server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id := fields[fieldID].GetStringValue()
	method := fields[fieldMethod].GetStringValue()
	if id == "" || method == "" {
		return nil, toStatusError(ErrInvalidArgument)
	}

	resp, err := s.registry.Invoke(ctx, id, method, fields[fieldArgs].GetStructValue())
	if err != nil {
		logging.FromContext(ctx, s.log).Debug(ctx, "remote invocation failed",
			logging.String("id", id),
			logging.String("op", method),
			logging.Err(err),
		)
		return nil, toStatusError(err)
	}
	return resp, nil
}

// Lookup resolves a published simulation name to its object id.
func (s *Server) Lookup(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	id, kind, err := s.registry.Resolve(req.GetValue())
	if err != nil {
		return nil, toStatusError(err)
	}
	if kind != KindSimulation {
		return nil, toStatusError(ErrNameNotBound)
	}
	return wrapperspb.String(id), nil
}

// NewGRPCServer builds a gRPC server carrying the Objects service with request
// ids, tracing and, when collector is set, request metrics.
func NewGRPCServer(registry *Registry, log logging.Logger, collector *observability.RemoteCollector, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}
	all := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)

	g := grpc.NewServer(all...)
	NewServer(registry, log).Register(g)
	return g
}
