// Package grpckeys carries key-server share requests over gRPC.
//
// Messages are CBOR payloads inside protobuf BytesValue wrappers, so no
// protoc/codegen step is needed.
package grpckeys

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/veritaslog/internal/grpcwire"
)

const serviceName = "veritaslog.keys.v1.KeyServer"

type KeyServerServer interface {
	Info(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	OpenShare(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type UnimplementedKeyServerServer struct{}

func (UnimplementedKeyServerServer) Info(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Info not implemented")
}
func (UnimplementedKeyServerServer) OpenShare(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method OpenShare not implemented")
}

func RegisterKeyServerServer(s grpc.ServiceRegistrar, srv KeyServerServer) {
	s.RegisterService(&KeyServer_ServiceDesc, srv)
}

type KeyServerClient interface {
	Info(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	OpenShare(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type keyServerClient struct{ cc grpc.ClientConnInterface }

func NewKeyServerClient(cc grpc.ClientConnInterface) KeyServerClient {
	return &keyServerClient{cc: cc}
}

func (c *keyServerClient) Info(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return grpcwire.Invoke[wrapperspb.BytesValue](ctx, c.cc, serviceName, "Info", in, opts...)
}

func (c *keyServerClient) OpenShare(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return grpcwire.Invoke[wrapperspb.BytesValue](ctx, c.cc, serviceName, "OpenShare", in, opts...)
}

var KeyServer_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*KeyServerServer)(nil),
	Methods: []grpc.MethodDesc{
		grpcwire.Unary(serviceName, "Info", KeyServerServer.Info),
		grpcwire.Unary(serviceName, "OpenShare", KeyServerServer.OpenShare),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyserver.proto",
}
