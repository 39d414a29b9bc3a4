// Package httpclient provides a polling HTTP transport. Inbound frames are
// fetched with GET as a JSON array; outbound actions are POSTed as JSON.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/botflow/internal/runtime/jsoncodec"
	"github.com/drblury/botflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http-client"

var maxResponseBytes int64 = 8 << 20

// ClientFactory allows overriding the HTTP client for testing.
var ClientFactory = func(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPClientCapabilities)
}

// Build validates the URL and returns a dialing endpoint.
func Build(cfg transport.Config, logger watermill.LoggerAdapter) (transport.Endpoint, error) {
	target, err := url.Parse(cfg.GetURL())
	if err != nil {
		return transport.Endpoint{}, fmt.Errorf("parse url: %w", err)
	}
	if s := strings.ToLower(target.Scheme); s != "http" && s != "https" {
		return transport.Endpoint{}, fmt.Errorf("http-client needs an http:// or https:// url, got scheme %q", target.Scheme)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return transport.Endpoint{
		Dialer: &Dialer{
			url:    target.String(),
			token:  cfg.GetAccessToken(),
			poll:   cfg.PollInterval(),
			client: ClientFactory(cfg.RequestTimeout()),
			logger: logger.With(watermill.LogFields{"transport": TransportName}),
		},
		Caps: transport.HTTPClientCapabilities,
	}, nil
}

// Dialer probes the endpoint and hands out polling connections.
type Dialer struct {
	url    string
	token  string
	poll   time.Duration
	client *http.Client
	logger watermill.LoggerAdapter
}

// Dial issues a HEAD request. Any response other than an auth rejection or a
// server error proves the endpoint is reachable.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	c := &Conn{Dialer: d}
	resp, err := c.do(ctx, http.MethodHead, nil)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	if err := checkStatus(resp, http.StatusMethodNotAllowed); err != nil {
		return nil, err
	}
	d.logger.Debug("HTTP endpoint reachable", watermill.LogFields{"url": d.url})
	return c, nil
}

// Conn polls the endpoint on an interval.
type Conn struct {
	*Dialer
}

func (c *Conn) ReadLoop(ctx context.Context, recv func(transport.Frame), alive func()) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		frames, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		alive()
		for _, f := range frames {
			recv(transport.NewFrame("", f))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Conn) fetch(ctx context.Context) ([]jsoncodec.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	body, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read poll response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var frames []jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(body, &frames); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return frames, nil
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	resp, err := c.do(ctx, http.MethodPost, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return checkStatus(resp)
}

// Request POSTs payload and returns the response body, which carries the
// platform's reply to the action.
func (c *Conn) Request(ctx context.Context, payload []byte) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read action response: %w", err)
	}
	return body, nil
}

// Ping is a no-op; every successful poll already proves liveness.
func (c *Conn) Ping(context.Context) error { return nil }

func (c *Conn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (d *Dialer) do(ctx context.Context, method string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, d.url, err)
	}
	return resp, nil
}

// readBody reads at most maxResponseBytes and fails rather than truncating.
func readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxResponseBytes {
		return nil, fmt.Errorf("response too large: more than %d bytes", maxResponseBytes)
	}
	return body, nil
}

func checkStatus(resp *http.Response, alsoOK ...int) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, code := range alsoOK {
		if resp.StatusCode == code {
			return nil
		}
	}
	return fmt.Errorf("unexpected status %s from %s", resp.Status, resp.Request.URL.Redacted())
}

var _ transport.Requester = (*Conn)(nil)

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPClientCapabilities
}
