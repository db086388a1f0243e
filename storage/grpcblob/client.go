package grpcblob

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/veritaslog/cidutil"
	"xdao.co/veritaslog/storage"
)

// Client implements storage.BlobStore over the BlobStore gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client BlobStoreClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra dial options, appended after the defaults (tests pass a bufconn dialer).
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

// NewClient wraps an existing connection. Close closes cc.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewBlobStoreClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(ctx context.Context, data []byte, opts storage.PutOptions) (string, error) {
	if c == nil || c.client == nil {
		return "", storage.ErrNoBackends
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	ctx, err := withPutOptions(ctx, opts)
	if err != nil {
		return "", err
	}
	reply, err := c.client.Put(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return "", mapRPC(err)
	}
	ref := reply.GetValue()
	if ref == "" {
		return "", storage.ErrInvalidRef
	}
	// Content-addressed servers are held to their reference.
	if _, perr := cidutil.Parse(ref); perr == nil && !cidutil.Matches(ref, data) {
		return "", storage.ErrRefMismatch
	}
	return ref, nil
}

func (c *Client) Get(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, storage.ErrInvalidRef
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.String(ref))
	if err != nil {
		return nil, mapRPC(err)
	}
	b := reply.GetValue()
	if _, perr := cidutil.Parse(ref); perr == nil && !cidutil.Matches(ref, b) {
		return nil, storage.ErrIntegrity
	}
	return b, nil
}

func (c *Client) Has(ctx context.Context, ref string) bool {
	if ref == "" {
		return false
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.String(ref))
	if err != nil {
		return false
	}
	return reply.GetValue()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
