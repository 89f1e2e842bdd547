// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"

	"github.com/coldvault/coldvault/pkg/objectstore"
)

func startTestServer(t *testing.T, verifier BearerTokenVerifier) (addr string, backend *objectstore.LocalFs, stop func()) {
	t.Helper()

	backend, err := objectstore.NewLocalFs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(backend, verifier, nil)
	go func() {
		_ = srv.Serve(ln)
	}()

	return ln.Addr().String(), backend, func() {
		srv.Close()
	}
}

func TestClientServerRoundTrip(t *testing.T) {
	addr, _, stop := startTestServer(t, nil)
	defer stop()

	client, err := Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	key, err := client.Upload(ctx, bytes.NewReader([]byte("hello over the wire")))
	if err != nil {
		t.Fatal(err)
	}

	r, err := client.Download(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello over the wire" {
		t.Errorf("got %q, want %q", got, "hello over the wire")
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Download(ctx, key); err == nil {
		t.Error("expected an error downloading a deleted key")
	}
}

func TestClientRejectedWithoutToken(t *testing.T) {
	verifier := NewStaticTokenVerifier("secret-token")
	addr, _, stop := startTestServer(t, verifier)
	defer stop()

	_, err := Dial(addr)
	if err == nil {
		t.Fatal("expected dial to fail without a valid token")
	}
}

func TestClientAcceptedWithToken(t *testing.T) {
	verifier := NewStaticTokenVerifier("secret-token")
	addr, _, stop := startTestServer(t, verifier)
	defer stop()

	client, err := Dial(addr, WithToken("secret-token"))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Upload(ctx, bytes.NewReader([]byte("ok"))); err != nil {
		t.Fatal(err)
	}
}

func TestReconnectingClientSurvivesDroppedConnection(t *testing.T) {
	addr, _, stop := startTestServer(t, nil)
	defer stop()

	rc := NewReconnectingClient(func() (*Client, error) {
		return Dial(addr)
	}, WithMaxRetries(3))
	defer rc.Close()

	ctx := context.Background()
	key, err := rc.Upload(ctx, bytes.NewReader([]byte("first")))
	if err != nil {
		t.Fatal(err)
	}

	// Break the socket under the live client so the next call has to
	// notice the failure and redial.
	rc.mu.Lock()
	rc.client.conn.Close()
	rc.mu.Unlock()

	r, err := rc.Download(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first" {
		t.Errorf("got %q, want %q", got, "first")
	}
}
