package grpckeys

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/veritaslog/codec"
	"xdao.co/veritaslog/session"
	"xdao.co/veritaslog/threshold"
)

// Server exposes a threshold.KeyServer.
type Server struct {
	UnimplementedKeyServerServer
	Keys *threshold.KeyServer
}

func (s *Server) Info(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Keys == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing key server")
	}
	b, err := codec.Marshal(s.Keys.Info())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) OpenShare(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Keys == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing key server")
	}
	var req threshold.ShareRequest
	if err := codec.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode share request: %v", err)
	}
	resp, err := s.Keys.OpenShare(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	b, err := codec.Marshal(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// mapErr keeps an expired credential distinct from other bad requests so the
// client can refresh its session.
func mapErr(err error) error {
	switch {
	case errors.Is(err, session.ErrExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, threshold.ErrAccessDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, threshold.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, threshold.ErrUnknownServer):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
