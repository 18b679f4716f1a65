package net

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

const controlServiceName = "duchy.v1.ComputationControl"

// ControlServer is the server API for the ComputationControl service. Each
// Process method consumes a client stream of frames (header first, then
// chunks) and replies with an empty ack: the protocol is a pure sink from
// the sender's point of view.
type ControlServer interface {
	ProcessNoisedSketch(ProcessStream) error
	ProcessConcatenatedSketch(ProcessStream) error
	ProcessEncryptedFlagsAndCounts(ProcessStream) error
	GetComputationToken(context.Context, *GetTokenRequest) (*GetTokenResponse, error)
}

// ProcessStream is the server view of one inbound artifact stream.
type ProcessStream interface {
	SendAndClose(*emptypb.Empty) error
	Recv() (*ProcessRequest, error)
	grpc.ServerStream
}

type processStream struct {
	grpc.ServerStream
}

func (x *processStream) SendAndClose(m *emptypb.Empty) error {
	return x.ServerStream.SendMsg(m)
}

func (x *processStream) Recv() (*ProcessRequest, error) {
	m := new(ProcessRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// UnimplementedControlServer can be embedded for forward compatibility.
type UnimplementedControlServer struct{}

func (UnimplementedControlServer) ProcessNoisedSketch(ProcessStream) error {
	return status.Error(codes.Unimplemented, "method ProcessNoisedSketch not implemented")
}
func (UnimplementedControlServer) ProcessConcatenatedSketch(ProcessStream) error {
	return status.Error(codes.Unimplemented, "method ProcessConcatenatedSketch not implemented")
}
func (UnimplementedControlServer) ProcessEncryptedFlagsAndCounts(ProcessStream) error {
	return status.Error(codes.Unimplemented, "method ProcessEncryptedFlagsAndCounts not implemented")
}
func (UnimplementedControlServer) GetComputationToken(context.Context, *GetTokenRequest) (*GetTokenResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetComputationToken not implemented")
}

// RegisterControlServer registers the ComputationControl service on a gRPC
// server.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

func _Control_ProcessNoisedSketch_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).ProcessNoisedSketch(&processStream{stream})
}

func _Control_ProcessConcatenatedSketch_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).ProcessConcatenatedSketch(&processStream{stream})
}

func _Control_ProcessEncryptedFlagsAndCounts_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ControlServer).ProcessEncryptedFlagsAndCounts(&processStream{stream})
}

func _Control_GetComputationToken_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetTokenRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).GetComputationToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + controlServiceName + "/GetComputationToken"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).GetComputationToken(ctx, req.(*GetTokenRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Control_ServiceDesc is the grpc.ServiceDesc for the ComputationControl
// service.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: controlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetComputationToken", Handler: _Control_GetComputationToken_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ProcessNoisedSketch",
			Handler:       _Control_ProcessNoisedSketch_Handler,
			ClientStreams: true,
		},
		{
			StreamName:    "ProcessConcatenatedSketch",
			Handler:       _Control_ProcessConcatenatedSketch_Handler,
			ClientStreams: true,
		},
		{
			StreamName:    "ProcessEncryptedFlagsAndCounts",
			Handler:       _Control_ProcessEncryptedFlagsAndCounts_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "duchy/control.proto",
}
