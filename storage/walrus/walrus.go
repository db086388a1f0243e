// Package walrus is a BlobStore backed by the Walrus HTTP publisher and
// aggregator APIs.
//
// Blob ids are assigned by the network and are not CIDs. Attributes cannot be
// set through the HTTP publisher; they are dropped with a warning.
package walrus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"xdao.co/veritaslog/storage"
)

// DefaultTimeout bounds each HTTP call when Client.HTTP is nil.
const DefaultTimeout = 120 * time.Second

// Client talks to one publisher (writes) and one aggregator (reads).
type Client struct {
	Publisher  string
	Aggregator string
	HTTP       *http.Client
	Logger     *slog.Logger

	// MaxBlobBytes caps aggregator responses. Zero means 64 MiB.
	MaxBlobBytes int64
}

var _ storage.BlobStore = (*Client)(nil)

// New returns a client with a DefaultTimeout HTTP client.
func New(publisher, aggregator string) *Client {
	return &Client{
		Publisher:  strings.TrimRight(publisher, "/"),
		Aggregator: strings.TrimRight(aggregator, "/"),
		HTTP:       &http.Client{Timeout: DefaultTimeout},
	}
}

// HTTPError is a non-2xx response from the publisher or aggregator.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("walrus %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("walrus %s: http %d: %s", e.Op, e.Status, e.Body)
}

type storeResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			ID     string `json:"id"`
			BlobID string `json:"blobId"`
			Size   int64  `json:"size"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID   string `json:"blobId"`
		EndEpoch int64  `json:"endEpoch"`
	} `json:"alreadyCertified"`
}

func (c *Client) Put(ctx context.Context, data []byte, opts storage.PutOptions) (string, error) {
	if c.Publisher == "" {
		return "", fmt.Errorf("walrus: publisher url not configured")
	}
	q := url.Values{}
	if opts.Epochs > 0 {
		q.Set("epochs", strconv.Itoa(opts.Epochs))
	}
	if opts.Deletable {
		q.Set("deletable", "true")
	}
	if opts.Signer != "" {
		q.Set("send_object_to", opts.Signer)
	}
	u := c.Publisher + "/v1/blobs"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	if len(opts.Attributes) > 0 {
		c.logger().Warn("walrus publisher drops blob attributes; lookups by attribute will not find this blob", "attributes", opts.Attributes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("walrus put: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("walrus put: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", &HTTPError{Op: "put", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var sr storeResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("walrus put: decode response: %w", err)
	}
	var blobID string
	switch {
	case sr.NewlyCreated != nil:
		blobID = sr.NewlyCreated.BlobObject.BlobID
		c.logger().Debug("walrus blob created", "blob_id", blobID, "object_id", sr.NewlyCreated.BlobObject.ID, "size", sr.NewlyCreated.BlobObject.Size)
	case sr.AlreadyCertified != nil:
		blobID = sr.AlreadyCertified.BlobID
		c.logger().Debug("walrus blob already certified", "blob_id", blobID, "end_epoch", sr.AlreadyCertified.EndEpoch)
	}
	if blobID == "" {
		return "", fmt.Errorf("walrus put: response carries no blob id")
	}
	return blobID, nil
}

func (c *Client) Get(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" || strings.ContainsAny(ref, "/?#") {
		return nil, storage.ErrInvalidRef
	}
	if c.Aggregator == "" {
		return nil, fmt.Errorf("walrus: aggregator url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Aggregator+"/v1/blobs/"+url.PathEscape(ref), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("walrus get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, storage.ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Op: "get", Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	limit := c.MaxBlobBytes
	if limit <= 0 {
		limit = 64 << 20
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("walrus get: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("walrus get: blob exceeds %d bytes", limit)
	}
	return b, nil
}

// Has asks the aggregator with HEAD. Aggregators that reject HEAD are asked
// with a full GET instead.
func (c *Client) Has(ctx context.Context, ref string) bool {
	if ref == "" || strings.ContainsAny(ref, "/?#") || c.Aggregator == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.Aggregator+"/v1/blobs/"+url.PathEscape(ref), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.logger().Debug("walrus head failed", "blob_id", ref, "err", err)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	switch {
	case resp.StatusCode/100 == 2:
		return true
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		_, err := c.Get(ctx, ref)
		return err == nil
	default:
		return false
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return &http.Client{Timeout: DefaultTimeout}
	}
	return c.HTTP
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
