// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package remote speaks a length-prefixed binary protocol to a peer
// coldvault process, exposing the same Upload/Download/Delete capability
// as the local and cloud objectstore backends: a blob store accessible
// over a plain TCP (or TLS) connection instead of a cloud API.
package remote

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Binary protocol message types.
const (
	msgHello       uint16 = 1
	msgPutBlob     uint16 = 2
	msgGetBlob     uint16 = 3
	msgDeleteBlob  uint16 = 4
	msgCatalogHead uint16 = 5
	msgError       uint16 = 255
)

const protocolVersion uint16 = 1

// frame is one binary protocol message: a 16-byte header (length, msgType,
// flags, reqID) followed by length bytes of payload.
type frame struct {
	msgType uint16
	reqID   uint64
	payload []byte
}

func writeFrame(w io.Writer, msgType uint16, reqID uint64, payload []byte) error {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint16(header[4:6], msgType)
	binary.LittleEndian.PutUint16(header[6:8], 0) // flags, unused
	binary.LittleEndian.PutUint64(header[8:16], reqID)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("remote: writing frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("remote: writing frame payload: %w", err)
		}
	}
	return nil
}

func readFrame(r io.Reader) (*frame, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("remote: reading frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	msgType := binary.LittleEndian.Uint16(header[4:6])
	reqID := binary.LittleEndian.Uint64(header[8:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("remote: reading frame payload: %w", err)
	}
	return &frame{msgType: msgType, reqID: reqID, payload: payload}, nil
}

func parseServerError(payload []byte) error {
	if len(payload) < 8 {
		return &ServerError{Code: 0, Detail: "unknown error"}
	}
	code := binary.LittleEndian.Uint32(payload[0:4])
	detailLen := binary.LittleEndian.Uint32(payload[4:8])
	detail := ""
	if int(detailLen) <= len(payload)-8 {
		detail = string(payload[8 : 8+detailLen])
	}
	return &ServerError{Code: code, Detail: detail}
}

func encodeServerError(code uint32, detail string) []byte {
	out := make([]byte, 8+len(detail))
	binary.LittleEndian.PutUint32(out[0:4], code)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(detail)))
	copy(out[8:], detail)
	return out
}

// helloRequest is the control payload sent with msgHello, msgpack-encoded.
type helloRequest struct {
	ProtocolVersion uint16 `msgpack:"protocol_version"`
	Token           string `msgpack:"token"`
}

// helloResponse is the control payload returned for a successful msgHello.
type helloResponse struct {
	SessionID       uint64 `msgpack:"session_id"`
	ProtocolVersion uint16 `msgpack:"protocol_version"`
}

func encodeHelloRequest(token string) ([]byte, error) {
	return msgpack.Marshal(helloRequest{ProtocolVersion: protocolVersion, Token: token})
}

func decodeHelloRequest(b []byte) (helloRequest, error) {
	var req helloRequest
	if err := msgpack.Unmarshal(b, &req); err != nil {
		return helloRequest{}, fmt.Errorf("remote: decoding hello request: %w", err)
	}
	return req, nil
}

func encodeHelloResponse(sessionID uint64) ([]byte, error) {
	return msgpack.Marshal(helloResponse{SessionID: sessionID, ProtocolVersion: protocolVersion})
}

func decodeHelloResponse(b []byte) (helloResponse, error) {
	var resp helloResponse
	if err := msgpack.Unmarshal(b, &resp); err != nil {
		return helloResponse{}, fmt.Errorf("%w: decoding hello response: %v", ErrInvalidResponse, err)
	}
	return resp, nil
}

// keyPayload and friends carry a single object key as the whole frame
// payload; no structure is needed beyond the raw bytes.
func keyPayload(key string) []byte { return []byte(key) }
