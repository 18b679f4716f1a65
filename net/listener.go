package net

import (
	"context"
	"net"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/metrics"
)

// Listener is the active listener for the inter-duchy gRPC service.
type Listener interface {
	Start() error
	Stop(ctx context.Context)
	Addr() string
}

// NewGRPCListener creates a new listener for the ComputationControl API over
// gRPC. When insecure is false, certPath and keyPath must point to the
// server's TLS credentials.
func NewGRPCListener(
	l log.Logger,
	bindingAddr string,
	s ControlServer,
	insecure bool,
	certPath, keyPath string,
	opts ...grpc.ServerOption,
) (Listener, error) {
	lis, err := net.Listen("tcp", bindingAddr)
	if err != nil {
		return nil, err
	}

	if !insecure {
		grpcCreds, err := credentials.NewServerTLSFromFile(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(grpcCreds))
	}
	opts = append(opts,
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_prometheus.StreamServerInterceptor,
			streamLogInterceptor(l),
		)),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_prometheus.UnaryServerInterceptor,
			unaryLogInterceptor(l),
		)),
	)
	grpcServer := grpc.NewServer(opts...)
	RegisterControlServer(grpcServer, s)

	grpc_prometheus.Register(grpcServer)
	metrics.RegisterGRPCServerMetrics(l)

	return &grpcListener{
		log:        l,
		grpcServer: grpcServer,
		lis:        lis,
	}, nil
}

type grpcListener struct {
	log        log.Logger
	grpcServer *grpc.Server
	lis        net.Listener
}

func (g *grpcListener) Addr() string {
	return g.lis.Addr().String()
}

func (g *grpcListener) Start() error {
	return g.grpcServer.Serve(g.lis)
}

func (g *grpcListener) Stop(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-ctx.Done():
		g.grpcServer.Stop()
	case <-stopped:
	}
}

// streamLogInterceptor attaches the node logger to every stream context and
// logs failed streams.
func streamLogInterceptor(l log.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		wrapped := grpc_middleware.WrapServerStream(ss)
		wrapped.WrappedContext = log.ToContext(ss.Context(), l)
		err := handler(srv, wrapped)
		if err != nil {
			l.Debugw("stream call failed", "method", info.FullMethod, "err", err)
		}
		return err
	}
}

func unaryLogInterceptor(l log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(log.ToContext(ctx, l), req)
		if err != nil {
			l.Debugw("unary call failed", "method", info.FullMethod, "err", err)
		}
		return resp, err
	}
}
