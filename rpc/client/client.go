// Package client implements the HTTP client for the bucketdb API. The
// same client backs the CLI and, in replication mode, the forwarding of
// mutations to the secondary replica.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"bucketdb/lib/bucket"
	"bucketdb/lib/logging"
	"bucketdb/rpc/common"
)

var log = logging.GetLogger("rpc/client")

// APIKeyHeader carries the caller's key on every request.
const APIKeyHeader = "X-API-Key"

// ReplicatedParam is the query parameter marking a request as
// replication traffic. The receiving node applies such requests without
// re-replicating them.
const ReplicatedParam = "replicated"

// Client talks to one bucketdb node. In replicated mode every request
// carries the replication marker; this mode is used by the replication
// manager and implements replication.Target.
type Client struct {
	base       string
	apiKey     string
	replicated bool
	retryCount int
	client     *http.Client
}

// New creates a client for regular API calls.
func New(cfg common.ClientConfig) *Client {
	return newClient(cfg, false)
}

// NewReplica creates a client whose calls carry the replication
// marker, for forwarding mutations to the secondary replica.
func NewReplica(cfg common.ClientConfig) *Client {
	return newClient(cfg, true)
}

func newClient(cfg common.ClientConfig, replicated bool) *Client {
	retries := cfg.RetryCount
	if retries < 1 {
		retries = 1
	}
	return &Client{
		base:       cfg.Endpoint,
		apiKey:     cfg.APIKey,
		replicated: replicated,
		retryCount: retries,
		client: &http.Client{
			Timeout: cfg.Timeout(),
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     cfg.Timeout(),
			},
		},
	}
}

// --------------------------------------------------------------------------
// Bucket Operations
// --------------------------------------------------------------------------

func (c *Client) CreateBucket(name string) error {
	_, err := c.do(http.MethodPost, "/buckets/"+url.PathEscape(name), nil, nil)
	return err
}

func (c *Client) DeleteBucket(name string) error {
	_, err := c.do(http.MethodDelete, "/buckets/"+url.PathEscape(name), nil, nil)
	return err
}

func (c *Client) ListBuckets() ([]bucket.Config, error) {
	resp, err := c.do(http.MethodGet, "/buckets", nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Buckets, nil
}

func (c *Client) FlushBucket(name string) error {
	_, err := c.do(http.MethodPost, "/buckets/"+url.PathEscape(name)+"/flush", nil, nil)
	return err
}

// --------------------------------------------------------------------------
// Data Operations
// --------------------------------------------------------------------------

func (c *Client) AddData(name string, rec bucket.Record) error {
	_, err := c.do(http.MethodPost, "/buckets/"+url.PathEscape(name)+"/data", nil, rec)
	return err
}

func (c *Client) SetData(name string, rec bucket.Record, keyField string) error {
	params := url.Values{"keyField": {keyField}}
	_, err := c.do(http.MethodPut, "/buckets/"+url.PathEscape(name)+"/data", params, rec)
	return err
}

// DeleteData removes all records matching the predicate given as raw
// query parameters; the predicate travels in the request body.
func (c *Client) DeleteData(name string, params map[string]string) error {
	if params == nil {
		params = map[string]string{}
	}
	_, err := c.do(http.MethodDelete, "/buckets/"+url.PathEscape(name)+"/data", nil, params)
	return err
}

// QueryData runs a query against a bucket. The params use the flat
// query grammar (field=value, field[gte]=n, page, limit, ...).
func (c *Client) QueryData(name string, params url.Values) (bucket.Result, error) {
	resp, err := c.do(http.MethodGet, "/buckets/"+url.PathEscape(name)+"/data", params, nil)
	if err != nil {
		return bucket.Result{}, err
	}
	if resp.Result == nil {
		return bucket.Result{}, fmt.Errorf("query response carried no result")
	}
	return *resp.Result, nil
}

// --------------------------------------------------------------------------
// Liveness
// --------------------------------------------------------------------------

// Ping probes the node's health endpoint. Any transport error or
// non-success status reports the node as unreachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// envelope mirrors the server's JSON response shape.
type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Removed bool            `json:"removed,omitempty"`
	Buckets []bucket.Config `json:"buckets,omitempty"`
	Result  *bucket.Result  `json:"result,omitempty"`
}

// do sends one request (with retries on transport errors) and decodes
// the response envelope. A non-success envelope becomes an error.
func (c *Client) do(method, path string, params url.Values, body any) (*envelope, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.replicated {
		params.Set(ReplicatedParam, "true")
	}

	requestURL := c.base + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var resp *http.Response
	var err error
	for i := 0; i < c.retryCount; i++ {
		var req *http.Request
		req, err = http.NewRequest(method, requestURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set(APIKeyHeader, c.apiKey)
		}

		resp, err = c.client.Do(req)
		if err == nil {
			break
		}
		if i < c.retryCount-1 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error("failed to close response body", "err", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("http %d: unparsable response: %w", resp.StatusCode, err)
		}
	}

	if !env.Success {
		if env.Error != "" {
			return nil, fmt.Errorf("%s %s: %s", method, path, env.Error)
		}
		return nil, fmt.Errorf("%s %s: http status %d", method, path, resp.StatusCode)
	}
	return &env, nil
}
