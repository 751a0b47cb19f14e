// Package client sends authenticated commands to a host, the same way the
// companion app does. It backs the send subcommand and end-to-end tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/handset/host/internal/envelope"
	apperrors "github.com/handset/host/internal/errors"
)

// DefaultMaxRetries bounds retries of a reliable send.
const DefaultMaxRetries = 3

// Config holds configuration for a Client.
type Config struct {
	// Key is the 32-byte command key derived from the pairing code. Required.
	Key []byte

	// HTTPAddr is the host:port of the reliable transport.
	HTTPAddr string

	// UDPAddr is the host:port of the low-latency transport.
	UDPAddr string

	// HTTPClient is used for reliable sends.
	// Default: a client with a 5s timeout.
	HTTPClient *http.Client

	// MaxRetries bounds retries after transport errors and 503 responses.
	// Default: DefaultMaxRetries. Negative disables retries.
	MaxRetries int

	// InitialBackoff is the first retry delay.
	// Default: 100ms.
	InitialBackoff time.Duration

	// TimeNow stamps payloads.
	// Default: time.Now.
	TimeNow func() time.Time
}

// Client seals commands into envelopes and sends them.
type Client struct {
	config Config
	codec  *envelope.Codec
}

// Response is a successful command result.
type Response struct {
	Status string `json:"status"`
}

type responseBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// New creates a client for the given key.
func New(config Config) (*Client, error) {
	codec, err := envelope.NewCodec(config.Key)
	if err != nil {
		return nil, err
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.TimeNow == nil {
		config.TimeNow = time.Now
	}
	return &Client{config: config, codec: codec}, nil
}

// Seal builds a fresh payload for cmd and returns its wire bytes.
func (c *Client) Seal(cmd string, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return c.codec.Seal(&envelope.Payload{
		Command:   cmd,
		Data:      data,
		Timestamp: c.config.TimeNow().UnixMilli(),
		Nonce:     uuid.NewString(),
	})
}

// Send delivers cmd over the reliable transport and returns the host's result.
//
// The envelope is sealed once and resent unchanged on retry, so the host's
// nonce check executes the command at most once. Only transport errors and
// 503 responses are retried; any other failure is returned as a
// *errors.CodedError carrying the host's code.
func (c *Client) Send(ctx context.Context, cmd string, data map[string]any) (*Response, error) {
	if c.config.HTTPAddr == "" {
		return nil, fmt.Errorf("client: no HTTP address configured")
	}
	body, err := c.Seal(cmd, data)
	if err != nil {
		return nil, err
	}
	url := "http://" + c.config.HTTPAddr + "/command"

	var resp *Response
	operation := func() error {
		r, err := c.post(ctx, url, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	retries := c.config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(retries))

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// post makes one attempt. Errors that must not be retried are wrapped
// with backoff.Permanent.
func (c *Client) post(ctx context.Context, url string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("send: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, envelope.MaxWireSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rb responseBody
	if err := json.Unmarshal(raw, &rb); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("unexpected response (%d): %q", httpResp.StatusCode, raw))
	}

	if rb.Code != "" {
		coded := apperrors.New(rb.Code, rb.Error)
		if httpResp.StatusCode == http.StatusServiceUnavailable {
			return nil, coded
		}
		return nil, backoff.Permanent(coded)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d", httpResp.StatusCode))
	}
	return &Response{Status: rb.Status}, nil
}

// SendFast delivers cmd over the low-latency transport. The host never
// replies, so success means only that the datagram was written.
func (c *Client) SendFast(cmd string, data map[string]any) error {
	if c.config.UDPAddr == "" {
		return fmt.Errorf("client: no UDP address configured")
	}
	body, err := c.Seal(cmd, data)
	if err != nil {
		return err
	}
	conn, err := net.Dial("udp", c.config.UDPAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.config.UDPAddr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
