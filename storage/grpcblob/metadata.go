package grpcblob

import (
	"context"
	"encoding/json"
	"strconv"

	"google.golang.org/grpc/metadata"

	"xdao.co/veritaslog/storage"
)

// Put options ride in request metadata. Attributes use a binary key so that
// attribute names keep their case and values may hold any bytes.
const (
	mdEpochs     = "x-blob-epochs"
	mdDeletable  = "x-blob-deletable"
	mdSigner     = "x-blob-signer"
	mdAttributes = "x-blob-attributes-bin"
)

func withPutOptions(ctx context.Context, opts storage.PutOptions) (context.Context, error) {
	kv := []string{
		mdEpochs, strconv.Itoa(opts.Epochs),
		mdDeletable, strconv.FormatBool(opts.Deletable),
	}
	if opts.Signer != "" {
		kv = append(kv, mdSigner, opts.Signer)
	}
	if len(opts.Attributes) > 0 {
		b, err := json.Marshal(opts.Attributes)
		if err != nil {
			return nil, err
		}
		kv = append(kv, mdAttributes, string(b))
	}
	return metadata.AppendToOutgoingContext(ctx, kv...), nil
}

func putOptionsFrom(ctx context.Context) (storage.PutOptions, error) {
	var opts storage.PutOptions
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return opts, nil
	}
	if v := first(md, mdEpochs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, err
		}
		opts.Epochs = n
	}
	if v := first(md, mdDeletable); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, err
		}
		opts.Deletable = b
	}
	opts.Signer = first(md, mdSigner)
	if v := first(md, mdAttributes); v != "" {
		if err := json.Unmarshal([]byte(v), &opts.Attributes); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func first(md metadata.MD, key string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}
