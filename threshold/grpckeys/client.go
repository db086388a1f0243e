package grpckeys

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/veritaslog/codec"
	"xdao.co/veritaslog/session"
	"xdao.co/veritaslog/threshold"
)

// Client is a remote key server. It implements threshold.ShareOpener.
type Client struct {
	cc     *grpc.ClientConn
	client KeyServerClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var _ threshold.ShareOpener = (*Client)(nil)

func Dial(target string, extra ...grpc.DialOption) (*Client, error) {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, extra...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewKeyServerClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Info fetches the server's id and public key.
func (c *Client) Info(ctx context.Context) (threshold.ServerInfo, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Info(ctx, &emptypb.Empty{})
	if err != nil {
		return threshold.ServerInfo{}, mapRPC(err)
	}
	var info threshold.ServerInfo
	if err := codec.Unmarshal(reply.GetValue(), &info); err != nil {
		return threshold.ServerInfo{}, fmt.Errorf("grpckeys: decode info: %w", err)
	}
	return info, nil
}

func (c *Client) OpenShare(ctx context.Context, req threshold.ShareRequest) (threshold.ShareResponse, error) {
	b, err := codec.Marshal(req)
	if err != nil {
		return threshold.ShareResponse{}, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.OpenShare(ctx, wrapperspb.Bytes(b))
	if err != nil {
		return threshold.ShareResponse{}, mapRPC(err)
	}
	var resp threshold.ShareResponse
	if err := codec.Unmarshal(reply.GetValue(), &resp); err != nil {
		return threshold.ShareResponse{}, fmt.Errorf("grpckeys: decode response: %w", err)
	}
	return resp, nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func mapRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", threshold.ErrAccessDenied, st.Message())
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %w: %s", threshold.ErrInvalidRequest, session.ErrExpired, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", threshold.ErrInvalidRequest, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", threshold.ErrUnknownServer, st.Message())
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}
