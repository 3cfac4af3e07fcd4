package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/objectfs/objectfs-fuse/internal/circuit"
	"github.com/objectfs/objectfs-fuse/pkg/errors"
	"github.com/objectfs/objectfs-fuse/pkg/retry"
)

// Response is the result of one storage-node HTTP request.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte

	// RangeNotSatisfiable is true when the storage node answered 416, the
	// distinguished end-of-object signal the file handle treats as empty
	// read rather than failure.
	RangeNotSatisfiable bool
}

// Client is the one synchronous request/response primitive storage-node I/O
// goes through: GET with Range, PUT with Content-Range, and the bare PUT
// used to materialize a freshly allocated object.
type Client struct {
	pool           *Pool
	requestTimeout time.Duration
	retryer        *retry.Retryer
	breakers       *circuit.Manager
}

// NewClient builds a transport Client. breakers may be nil to disable
// per-origin circuit breaking.
func NewClient(pool *Pool, requestTimeout time.Duration, retryer *retry.Retryer, breakers *circuit.Manager) *Client {
	return &Client{
		pool:           pool,
		requestTimeout: requestTimeout,
		retryer:        retryer,
		breakers:       breakers,
	}
}

// Request issues method against url with the given headers and optional
// body, honoring the configured per-request timeout, retry policy, and
// per-origin circuit breaker. A 416 response is reported via
// Response.RangeNotSatisfiable rather than as an error.
func (c *Client) Request(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	var resp *Response

	do := func(ctx context.Context) error {
		r, err := c.doOnce(ctx, method, url, headers, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	var err error
	if c.breakers != nil {
		breaker := c.breakers.GetBreaker(origin(url))
		err = breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
			if c.retryer != nil {
				return c.retryer.DoWithContext(ctx, do)
			}
			return do(ctx)
		})
	} else if c.retryer != nil {
		err = c.retryer.DoWithContext(ctx, do)
	} else {
		err = do(ctx)
	}

	if err != nil {
		return nil, errors.IO("transport", method+" "+url, err)
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, method, url string, headers http.Header, body []byte) (*Response, error) {
	client := c.pool.Get()
	if client == nil {
		return nil, fmt.Errorf("transport: no client available from pool")
	}
	defer c.pool.Put(client)

	reqCtx := ctx
	var cancel context.CancelFunc
	if c.requestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("transport: building request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", method, url, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: reading response body: %w", err)
	}

	return &Response{
		Status:              httpResp.StatusCode,
		Headers:             httpResp.Header,
		Body:                respBody,
		RangeNotSatisfiable: httpResp.StatusCode == http.StatusRequestedRangeNotSatisfiable,
	}, nil
}

// RangeHeader builds the inclusive byte-range header value for a GET.
func RangeHeader(offset, length int64) string {
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// ContentRangeHeader builds the partial-PUT Content-Range header value.
func ContentRangeHeader(offset int64, length int) string {
	return fmt.Sprintf("bytes %d-%d/*", offset, offset+int64(length)-1)
}

// origin extracts "scheme://host[:port]" from a URL for circuit-breaker
// keying, falling back to the whole string on malformed input.
func origin(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return rawURL
	}
	return rawURL[:idx+3+slash]
}
