// Package frame implements record framing for the hub JSON protocol.
//
// Every record is a UTF-8 JSON object terminated by the ASCII record
// separator (0x1E). One WebSocket text message may carry several records:
//
//	{"type":1,"target":"messageReceived","arguments":[{...}]}\x1e{"type":6}\x1e
//
// The first record on a connection is the handshake request (client) and
// the handshake response (server); they carry no "type" field.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RecordSeparator byte = 0x1e
	Protocol             = "json"
	ProtoVersion         = 1
	MaxRecordLen         = 64 * 1024 // 64 KB hard limit
)

// Message types. Values are fixed by the hub protocol.
const (
	TypeInvocation       = 1
	TypeStreamItem       = 2
	TypeCompletion       = 3
	TypeStreamInvocation = 4
	TypeCancelInvocation = 5
	TypePing             = 6
	TypeClose            = 7
)

var (
	ErrRecordTooLarge     = errors.New("frame: record exceeds maximum size")
	ErrIncompleteRecord   = errors.New("frame: missing record separator")
	ErrMissingType        = errors.New("frame: record has no message type")
	ErrHandshakeRejected  = errors.New("frame: handshake rejected")
	ErrUnexpectedProtocol = errors.New("frame: unexpected protocol")
)

// Header is the part of every record needed to dispatch it.
type Header struct {
	Type int `json:"type"`
}

// HandshakeRequest is the first record a client sends.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the first record a server sends. An empty Error
// means the protocol was accepted.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Encode serialises v as a single record.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("frame: marshal: %w", err)
	}
	if len(data) > MaxRecordLen {
		return nil, ErrRecordTooLarge
	}
	return append(data, RecordSeparator), nil
}

// Split cuts a transport message into records, separators removed.
// Trailing bytes without a separator yield ErrIncompleteRecord together
// with the complete records before them.
func Split(data []byte) ([][]byte, error) {
	var records [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, RecordSeparator)
		if i < 0 {
			return records, ErrIncompleteRecord
		}
		if i > MaxRecordLen {
			return records, ErrRecordTooLarge
		}
		if i > 0 {
			records = append(records, data[:i])
		}
		data = data[i+1:]
	}
	return records, nil
}

// Decode reads the header of a single record.
func Decode(record []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(record, &h); err != nil {
		return Header{}, fmt.Errorf("frame: decode: %w", err)
	}
	if h.Type == 0 {
		return Header{}, ErrMissingType
	}
	return h, nil
}

// EncodeHandshake returns the client handshake record.
func EncodeHandshake() []byte {
	out, _ := Encode(HandshakeRequest{Protocol: Protocol, Version: ProtoVersion})
	return out
}

// DecodeHandshake parses the server's handshake response at the start of
// data and returns whatever follows it.
func DecodeHandshake(data []byte) ([]byte, error) {
	i := bytes.IndexByte(data, RecordSeparator)
	if i < 0 {
		return nil, ErrIncompleteRecord
	}
	var resp HandshakeResponse
	if err := json.Unmarshal(data[:i], &resp); err != nil {
		return nil, fmt.Errorf("frame: decode handshake: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Error)
	}
	return data[i+1:], nil
}

// DecodeHandshakeRequest parses a client handshake record. It is used by
// test servers and proxies that terminate the protocol.
func DecodeHandshakeRequest(data []byte) (HandshakeRequest, error) {
	records, err := Split(data)
	if err != nil {
		return HandshakeRequest{}, err
	}
	if len(records) == 0 {
		return HandshakeRequest{}, ErrIncompleteRecord
	}
	var req HandshakeRequest
	if err := json.Unmarshal(records[0], &req); err != nil {
		return HandshakeRequest{}, fmt.Errorf("frame: decode handshake: %w", err)
	}
	if req.Protocol != Protocol || req.Version != ProtoVersion {
		return req, fmt.Errorf("%w: %s/%d", ErrUnexpectedProtocol, req.Protocol, req.Version)
	}
	return req, nil
}
