package grpcblob

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/storage"
)

// Server exposes a storage.BlobStore over the BlobStore gRPC service.
type Server struct {
	UnimplementedBlobStoreServer
	Store  storage.BlobStore
	Logger *slog.Logger
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing blob store")
	}
	opts, err := putOptionsFrom(ctx)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "put options: %v", err)
	}
	b := in.GetValue()
	ref, err := s.Store.Put(ctx, b, opts)
	if err != nil {
		s.logger().Warn("blob put failed", "bytes", len(b), "err", err)
		return nil, mapErr(err)
	}
	if _, perr := cidutil.Parse(ref); perr == nil && !cidutil.Matches(ref, b) {
		return nil, status.Error(codes.DataLoss, storage.ErrRefMismatch.Error())
	}
	s.logger().Debug("blob stored", "ref", ref, "bytes", len(b), "epochs", opts.Epochs)
	return wrapperspb.String(ref), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing blob store")
	}
	ref := in.GetValue()
	if ref == "" {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidRef.Error())
	}
	b, err := s.Store.Get(ctx, ref)
	if err != nil {
		return nil, mapErr(err)
	}
	if _, perr := cidutil.Parse(ref); perr == nil && !cidutil.Matches(ref, b) {
		return nil, status.Error(codes.DataLoss, storage.ErrIntegrity.Error())
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing blob store")
	}
	ref := in.GetValue()
	if ref == "" {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidRef.Error())
	}
	return wrapperspb.Bool(s.Store.Has(ctx, ref)), nil
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
