// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldvault/coldvault/pkg/objectstore"
)

// Default timeouts.
const (
	DefaultDialTimeout    = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Client speaks the coldvault binary protocol to a single peer and
// implements objectstore.Transport against it.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	reqID     atomic.Uint64
	timeout   time.Duration
	closed    bool
	sessionID uint64
}

// Option configures Dial/DialTLS.
type Option func(*clientOptions)

type clientOptions struct {
	dialTimeout    time.Duration
	requestTimeout time.Duration
	token          string
}

// WithDialTimeout sets the connection timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.dialTimeout = d }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.requestTimeout = d }
}

// WithToken sets the bearer token sent in the HELLO handshake.
func WithToken(token string) Option {
	return func(o *clientOptions) { o.token = token }
}

// Dial connects to a coldvault peer over plain TCP.
func Dial(addr string, opts ...Option) (*Client, error) {
	o := clientOptions{dialTimeout: DefaultDialTimeout, requestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := net.DialTimeout("tcp", addr, o.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	return newClient(conn, o)
}

// DialTLS connects to a coldvault peer over TLS.
func DialTLS(addr string, tlsConfig *tls.Config, opts ...Option) (*Client, error) {
	o := clientOptions{dialTimeout: DefaultDialTimeout, requestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	dialer := &net.Dialer{Timeout: o.dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("remote: dial tls %s: %w", addr, err)
	}
	return newClient(conn, o)
}

func newClient(conn net.Conn, o clientOptions) (*Client, error) {
	c := &Client{conn: conn, timeout: o.requestTimeout}
	if err := c.sendHello(o.token); err != nil {
		conn.Close()
		return nil, fmt.Errorf("remote: hello: %w", err)
	}
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// SessionID returns the session id assigned by the peer during HELLO.
func (c *Client) SessionID() uint64 { return c.sessionID }

func (c *Client) sendHello(token string) error {
	payload, err := encodeHelloRequest(token)
	if err != nil {
		return err
	}

	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("remote: set deadline: %w", err)
	}
	defer c.conn.SetDeadline(time.Time{})

	reqID := c.reqID.Add(1)
	if err := writeFrame(c.conn, msgHello, reqID, payload); err != nil {
		return err
	}
	resp, err := readFrame(c.conn)
	if err != nil {
		return err
	}
	if resp.msgType == msgError {
		return parseServerError(resp.payload)
	}
	hello, err := decodeHelloResponse(resp.payload)
	if err != nil {
		return err
	}
	c.sessionID = hello.SessionID
	return nil
}

func (c *Client) sendRequest(ctx context.Context, msgType uint16, payload []byte) (*frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("remote: set deadline: %w", err)
	}
	defer c.conn.SetDeadline(time.Time{})

	reqID := c.reqID.Add(1)
	if err := writeFrame(c.conn, msgType, reqID, payload); err != nil {
		return nil, err
	}
	resp, err := readFrame(c.conn)
	if err != nil {
		return nil, err
	}
	if resp.msgType == msgError {
		return nil, parseServerError(resp.payload)
	}
	return resp, nil
}

// Upload sends archive's full content to the peer and returns the key it
// assigned.
func (c *Client) Upload(ctx context.Context, archive io.Reader) (objectstore.Key, error) {
	data, err := io.ReadAll(archive)
	if err != nil {
		return "", fmt.Errorf("remote: reading archive: %w", err)
	}
	resp, err := c.sendRequest(ctx, msgPutBlob, data)
	if err != nil {
		return "", fmt.Errorf("remote: put blob: %w", err)
	}
	return objectstore.Key(resp.payload), nil
}

// Download fetches the blob stored under key.
func (c *Client) Download(ctx context.Context, key objectstore.Key) (io.ReadCloser, error) {
	resp, err := c.sendRequest(ctx, msgGetBlob, keyPayload(string(key)))
	if err != nil {
		return nil, fmt.Errorf("remote: get blob %q: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(resp.payload)), nil
}

// Delete removes the blob stored under key.
func (c *Client) Delete(ctx context.Context, key objectstore.Key) error {
	_, err := c.sendRequest(ctx, msgDeleteBlob, keyPayload(string(key)))
	if err != nil {
		return fmt.Errorf("remote: delete blob %q: %w", key, err)
	}
	return nil
}

var _ objectstore.Transport = (*Client)(nil)
