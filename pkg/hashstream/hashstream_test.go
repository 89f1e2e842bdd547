// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package hashstream

import (
	"bytes"
	"crypto/sha256"
	"io"
	"testing"
)

func TestWriteStreamFidelity(t *testing.T) {
	data := []byte("data")
	var sink bytes.Buffer
	ws := NewWriter(&sink)

	n, err := ws.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}

	want := sha256.Sum256(data)
	got := ws.Finalize()
	if got != want {
		t.Errorf("digest mismatch: got %x want %x", got, want)
	}
	if !bytes.Equal(sink.Bytes(), data) {
		t.Errorf("sink bytes mismatch: got %q want %q", sink.Bytes(), data)
	}
}

func TestReadStreamFidelity(t *testing.T) {
	data := []byte("some longer stream of bytes to hash incrementally")
	rs := NewReader(bytes.NewReader(data))

	got, err := io.ReadAll(rs)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read bytes mismatch")
	}

	want := sha256.Sum256(data)
	if rs.Finalize() != want {
		t.Errorf("digest mismatch: got %x want %x", rs.Finalize(), want)
	}
}

func TestDoneReturnsInnerAndDigest(t *testing.T) {
	var sink bytes.Buffer
	ws := NewWriter(&sink)
	ws.Write([]byte("x"))
	inner, digest := ws.Done()
	if inner != &sink {
		t.Error("expected Done to return the original inner writer")
	}
	want := sha256.Sum256([]byte("x"))
	if digest != want {
		t.Error("digest mismatch from Done")
	}
}
