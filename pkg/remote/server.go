// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/coldvault/coldvault/pkg/objectstore"
)

// Server accepts connections speaking the binary protocol and serves them
// against a backing objectstore.Transport. It exists so the wire protocol
// has a real counterpart to exercise and test against; gfbonny-cxdb's own
// server lives behind its storage engine and is not reused here.
type Server struct {
	backend  objectstore.Transport
	verifier BearerTokenVerifier
	log      *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// NewServer builds a Server that serves blobs out of backend, gating the
// HELLO handshake with verifier. A nil verifier accepts every connection.
func NewServer(backend objectstore.Transport, verifier BearerTokenVerifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{backend: backend, verifier: verifier, log: log}
}

// Serve accepts connections on ln until the server is closed or ln stops
// accepting. It blocks until that happens.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections and returns without waiting; Serve
// returns once the connections already in flight have finished.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	ctx := context.Background()

	if !s.handleHello(conn) {
		return
	}

	for {
		f, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("remote: connection read failed", "error", err)
			}
			return
		}
		if err := s.dispatch(ctx, conn, f); err != nil {
			s.log.Debug("remote: dispatch failed", "msgType", f.msgType, "error", err)
			return
		}
	}
}

func (s *Server) handleHello(conn net.Conn) bool {
	f, err := readFrame(conn)
	if err != nil {
		return false
	}
	if f.msgType != msgHello {
		s.writeError(conn, f.reqID, 1, "expected hello")
		return false
	}
	req, err := decodeHelloRequest(f.payload)
	if err != nil {
		s.writeError(conn, f.reqID, 1, "malformed hello")
		return false
	}
	if s.verifier != nil && !s.verifier.Verify(req.Token) {
		s.writeError(conn, f.reqID, 401, "unauthorized")
		return false
	}

	sessionID := f.reqID
	payload, err := encodeHelloResponse(sessionID)
	if err != nil {
		return false
	}
	return writeFrame(conn, msgHello, f.reqID, payload) == nil
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, f *frame) error {
	switch f.msgType {
	case msgPutBlob:
		key, err := s.backend.Upload(ctx, bytes.NewReader(f.payload))
		if err != nil {
			return s.writeError(conn, f.reqID, 500, err.Error())
		}
		return writeFrame(conn, msgPutBlob, f.reqID, []byte(key))

	case msgGetBlob:
		r, err := s.backend.Download(ctx, objectstore.Key(f.payload))
		if err != nil {
			return s.writeError(conn, f.reqID, 404, err.Error())
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return s.writeError(conn, f.reqID, 500, err.Error())
		}
		return writeFrame(conn, msgGetBlob, f.reqID, data)

	case msgDeleteBlob:
		if err := s.backend.Delete(ctx, objectstore.Key(f.payload)); err != nil {
			return s.writeError(conn, f.reqID, 404, err.Error())
		}
		return writeFrame(conn, msgDeleteBlob, f.reqID, nil)

	default:
		return s.writeError(conn, f.reqID, 400, "unknown message type")
	}
}

func (s *Server) writeError(conn net.Conn, reqID uint64, code uint32, detail string) error {
	return writeFrame(conn, msgError, reqID, encodeServerError(code, detail))
}
