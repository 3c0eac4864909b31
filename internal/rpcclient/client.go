// Package rpcclient implements the RPC Client Handle (C1, spec.md §4
// overview table): a connection-on-first-use handle that sends a
// method+params pair to a remote endpoint and returns bytes or a typed
// error, pluggable over HTTP, WebSocket, or a local pipe.
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"evmforge/internal/forkerrors"
)

// Transport is the single call shape of spec.md §6: "request(method,
// params) -> value | TransportError". The concrete transport owns its own
// headers, authorization and connection lifecycle.
type Transport interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Close() error
}

// Client is the RPC Client Handle. It connects lazily on first use,
// rate-limits outbound requests per endpoint, and coalesces concurrent
// identical in-flight requests into a single call (spec.md §5).
type Client struct {
	endpoint     string
	timeout      time.Duration
	limiter      *rate.Limiter
	bearerSecret string

	connect func() (Transport, error)
	sf      singleflight.Group

	transport Transport
}

// Option configures a Client at Dial time.
type Option func(*Client)

// WithTimeout sets the per-request timeout (spec.md §5 "Cancellation &
// timeouts").
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit caps outbound requests per second for this endpoint.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithBearerSecret derives a bearer-token Authorization header from a shared
// secret for transports that support it (spec.md §6 "authorization
// (including bearer tokens whose payload is derived from a configured
// shared secret)").
func WithBearerSecret(secret string) Option {
	return func(c *Client) {
		// Applied by the concrete transport constructors below; stashed here
		// so Dial can thread it through regardless of scheme.
		c.bearerSecret = secret
	}
}

// Dial builds a Client for endpoint without establishing any connection yet
// (connection-on-first-use, spec.md §4 overview table). The URL scheme
// selects the transport: http(s) for HTTPTransport, ws(s) for WSTransport,
// and file:///pipe/<name> (or a bare path on platforms without that
// convention) for PipeTransport.
func Dial(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, forkerrors.New(forkerrors.KindInvalidInput, "rpcclient.Dial", err)
	}

	c := &Client{endpoint: endpoint, timeout: 30 * time.Second, limiter: rate.NewLimiter(rate.Inf, 0)}
	for _, o := range opts {
		o(c)
	}

	switch u.Scheme {
	case "http", "https":
		c.connect = func() (Transport, error) { return newHTTPTransport(endpoint, c.bearerSecret) }
	case "ws", "wss":
		c.connect = func() (Transport, error) { return newWSTransport(endpoint, c.bearerSecret) }
	case "file":
		name := pipeNameFromURL(u)
		c.connect = func() (Transport, error) { return newPipeTransport(name) }
	case "":
		// Bare path: treat as a local pipe name directly.
		c.connect = func() (Transport, error) { return newPipeTransport(endpoint) }
	default:
		return nil, forkerrors.New(forkerrors.KindInvalidInput, "rpcclient.Dial",
			fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	return c, nil
}

// pipeNameFromURL maps the file:///pipe/<name> convention of spec.md §6 to
// a bare pipe/socket name.
func pipeNameFromURL(u *url.URL) string {
	p := u.Path
	const prefix = "/pipe/"
	if len(p) > len(prefix) && p[:len(prefix)] == prefix {
		return p[len(prefix):]
	}
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

func (c *Client) ensureConnected() error {
	if c.transport != nil {
		return nil
	}
	t, err := c.connect()
	if err != nil {
		return forkerrors.Rpc("connect", err)
	}
	c.transport = t
	return nil
}

// Call sends method+params and returns the raw JSON result or a
// TransportError. Concurrent identical calls (same method+params) made
// while one is already in flight are coalesced into a single round trip
// (spec.md §5).
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, forkerrors.Rpc(method, err)
	}
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	key, err := coalesceKey(method, params)
	if err != nil {
		return nil, forkerrors.New(forkerrors.KindInvalidInput, "rpcclient.Call", err)
	}
	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.transport.Request(ctx, method, params)
	})
	if err != nil {
		return nil, forkerrors.Rpc(method, err)
	}
	return v.(json.RawMessage), nil
}

// Close tears down the underlying transport, if connected.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

func coalesceKey(method string, params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return method + ":" + string(b), nil
}

// newRequestID tags a request for transports (such as WS) that multiplex
// many in-flight calls over one connection.
func newRequestID() string { return uuid.NewString() }
