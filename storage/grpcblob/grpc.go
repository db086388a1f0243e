package grpcblob

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/veritaslog/internal/grpcwire"
)

const serviceName = "veritaslog.storage.v1.BlobStore"

// BlobStoreServer is the server API for the BlobStore gRPC service. Put
// options travel as request metadata (see metadata.go).
type BlobStoreServer interface {
	Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// UnimplementedBlobStoreServer can be embedded to have forward compatible implementations.
type UnimplementedBlobStoreServer struct{}

func (UnimplementedBlobStoreServer) Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Put not implemented")
}
func (UnimplementedBlobStoreServer) Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedBlobStoreServer) Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Has not implemented")
}

// RegisterBlobStoreServer registers the service on a gRPC server.
func RegisterBlobStoreServer(s grpc.ServiceRegistrar, srv BlobStoreServer) {
	s.RegisterService(&BlobStore_ServiceDesc, srv)
}

// BlobStoreClient is the client API for the BlobStore gRPC service.
type BlobStoreClient interface {
	Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type blobStoreClient struct{ cc grpc.ClientConnInterface }

func NewBlobStoreClient(cc grpc.ClientConnInterface) BlobStoreClient {
	return &blobStoreClient{cc: cc}
}

func (c *blobStoreClient) Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return grpcwire.Invoke[wrapperspb.StringValue](ctx, c.cc, serviceName, "Put", in, opts...)
}

func (c *blobStoreClient) Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return grpcwire.Invoke[wrapperspb.BytesValue](ctx, c.cc, serviceName, "Get", in, opts...)
}

func (c *blobStoreClient) Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	return grpcwire.Invoke[wrapperspb.BoolValue](ctx, c.cc, serviceName, "Has", in, opts...)
}

// BlobStore_ServiceDesc is the grpc.ServiceDesc for the BlobStore service.
var BlobStore_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BlobStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		grpcwire.Unary(serviceName, "Put", BlobStoreServer.Put),
		grpcwire.Unary(serviceName, "Get", BlobStoreServer.Get),
		grpcwire.Unary(serviceName, "Has", BlobStoreServer.Has),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blobstore.proto",
}
