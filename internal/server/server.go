package server

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/isp-scheduler/internal/logging"
	"github.com/ChuLiYu/isp-scheduler/internal/scheduler"
)

// ServiceName is the fully qualified name of the status service.
const ServiceName = "pispbe.v1.SchedulerStatus"

const getStatusMethod = "/" + ServiceName + "/GetStatus"

// StatusSource provides scheduler snapshots.
type StatusSource interface {
	Status() scheduler.Status
}

// StatusServer is the server API of the status service.
type StatusServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// SchedulerStatusServiceDesc describes the status service to grpc. The
// messages are well-known types, so no generated code is needed.
var SchedulerStatusServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatusServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler:    getStatusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pispbe/v1/status.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatusServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: getStatusMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(StatusServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements the gRPC side: scheduler status and standard health.
type Server struct {
	src    StatusSource
	health *health.Server
	log    *slog.Logger
}

// NewServer creates a new gRPC server instance.
func NewServer(src StatusSource, logger *slog.Logger) *Server {
	return &Server{
		src:    src,
		health: health.NewServer(),
		log:    logging.For(logger, logging.ComponentServer),
	}
}

// Register adds the status and health services to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&SchedulerStatusServiceDesc, s)
	healthpb.RegisterHealthServer(g, s.health)
}

// SetServing flips the health status of the status service and of the
// server as a whole.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown marks everything not serving for good.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// GetStatus returns the scheduler snapshot as a protobuf Struct.
func (s *Server) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(s.src.Status().AsMap())
	if err != nil {
		s.log.Error("status not representable", "error", err)
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return out, nil
}

// StatusClient calls the status service.
type StatusClient struct {
	cc grpc.ClientConnInterface
}

// NewStatusClient wraps a client connection.
func NewStatusClient(cc grpc.ClientConnInterface) *StatusClient {
	return &StatusClient{cc: cc}
}

// GetStatus fetches a snapshot.
func (c *StatusClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getStatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
