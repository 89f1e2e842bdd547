// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/coldvault/coldvault/pkg/objectstore"
)

// ReconnectingClient wraps Client with automatic reconnection on connection
// errors. Unlike gfbonny-cxdb's ReconnectingClient, it does not queue
// requests through a background sender goroutine: coldvault's transfers are
// already driven by a bounded worker pool (see objectstore.UploadAll), so a
// simple dial-retry-and-redo wrapper is enough and is much easier to reason
// about under that caller's own concurrency limit.
type ReconnectingClient struct {
	dial func() (*Client, error)

	mu         sync.Mutex
	client     *Client
	closed     bool
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ReconnectOption configures a ReconnectingClient.
type ReconnectOption func(*ReconnectingClient)

// WithMaxRetries bounds how many reconnect attempts a single operation will
// make before giving up. Zero means retry forever.
func WithMaxRetries(n int) ReconnectOption {
	return func(rc *ReconnectingClient) { rc.maxRetries = n }
}

// WithBackoff sets the exponential backoff base and cap between reconnect
// attempts.
func WithBackoff(base, max time.Duration) ReconnectOption {
	return func(rc *ReconnectingClient) { rc.baseDelay, rc.maxDelay = base, max }
}

// NewReconnectingClient builds a ReconnectingClient that calls dial to
// (re)establish its connection on demand.
func NewReconnectingClient(dial func() (*Client, error), opts ...ReconnectOption) *ReconnectingClient {
	rc := &ReconnectingClient{
		dial:      dial,
		baseDelay: 200 * time.Millisecond,
		maxDelay:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Close releases the current underlying connection, if any.
func (rc *ReconnectingClient) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.closed = true
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

func (rc *ReconnectingClient) currentOrDial() (*Client, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return nil, ErrClientClosed
	}
	if rc.client != nil {
		return rc.client, nil
	}
	c, err := rc.dial()
	if err != nil {
		return nil, err
	}
	rc.client = c
	return c, nil
}

func (rc *ReconnectingClient) dropBroken(broken *Client) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.client == broken {
		rc.client = nil
	}
}

// withRetry runs op against a live client, reconnecting with exponential
// backoff whenever op, or the dial that replaces a broken client, fails
// with a connection error.
func withRetry[T any](rc *ReconnectingClient, ctx context.Context, op func(*Client) (T, error)) (T, error) {
	var zero T
	delay := rc.baseDelay
	for attempt := 0; ; attempt++ {
		c, err := rc.currentOrDial()
		if err == nil {
			var result T
			result, err = op(c)
			if err == nil {
				return result, nil
			}
			if !isConnectionError(err) {
				return zero, err
			}
			rc.dropBroken(c)
			c.Close()
		} else if errors.Is(err, ErrClientClosed) || !isConnectionError(err) {
			return zero, err
		}

		if rc.maxRetries > 0 && attempt+1 >= rc.maxRetries {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > rc.maxDelay {
			delay = rc.maxDelay
		}
	}
}

// Upload implements objectstore.Transport, reconnecting on failure.
func (rc *ReconnectingClient) Upload(ctx context.Context, archive io.Reader) (objectstore.Key, error) {
	// Read the archive once so a retried attempt resends the same bytes
	// rather than an already drained reader.
	data, err := io.ReadAll(archive)
	if err != nil {
		return "", fmt.Errorf("remote: reading archive: %w", err)
	}
	return withRetry(rc, ctx, func(c *Client) (objectstore.Key, error) {
		return c.Upload(ctx, bytes.NewReader(data))
	})
}

// Download implements objectstore.Transport, reconnecting on failure.
func (rc *ReconnectingClient) Download(ctx context.Context, key objectstore.Key) (io.ReadCloser, error) {
	return withRetry(rc, ctx, func(c *Client) (io.ReadCloser, error) {
		return c.Download(ctx, key)
	})
}

// Delete implements objectstore.Transport, reconnecting on failure.
func (rc *ReconnectingClient) Delete(ctx context.Context, key objectstore.Key) error {
	_, err := withRetry(rc, ctx, func(c *Client) (struct{}, error) {
		return struct{}{}, c.Delete(ctx, key)
	})
	return err
}

var _ objectstore.Transport = (*ReconnectingClient)(nil)

// connectionSyscallErrors lists the errno values that indicate the
// underlying socket is no longer usable and a fresh dial is warranted.
var connectionSyscallErrors = map[syscall.Errno]bool{
	syscall.ECONNRESET:   true,
	syscall.ECONNREFUSED: true,
	syscall.ECONNABORTED: true,
	syscall.EPIPE:        true,
	syscall.ETIMEDOUT:    true,
}

// isConnectionError reports whether err indicates the connection itself
// failed, as opposed to a protocol-level error returned by the peer.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, ErrClientClosed) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return connectionSyscallErrors[errno]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
