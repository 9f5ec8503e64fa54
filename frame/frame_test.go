package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	type invocation struct {
		Type      int    `json:"type"`
		Target    string `json:"target"`
		Arguments []any  `json:"arguments"`
	}

	encoded, err := Encode(invocation{Type: TypeInvocation, Target: "SendMessage", Arguments: []any{42, "hi"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if encoded[len(encoded)-1] != RecordSeparator {
		t.Fatal("encoded record must end with the record separator")
	}

	records, err := Split(encoded)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}

	h, err := Decode(records[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Type != TypeInvocation {
		t.Errorf("type: got %d, want %d", h.Type, TypeInvocation)
	}
}

func TestSplitMultipleRecords(t *testing.T) {
	var buf bytes.Buffer
	for _, ft := range []int{TypeInvocation, TypeCompletion, TypePing, TypeClose} {
		rec, err := Encode(Header{Type: ft})
		if err != nil {
			t.Fatalf("encode type %d: %v", ft, err)
		}
		buf.Write(rec)
	}

	records, err := Split(buf.Bytes())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []int{TypeInvocation, TypeCompletion, TypePing, TypeClose}
	if len(records) != len(want) {
		t.Fatalf("records: got %d, want %d", len(records), len(want))
	}
	for i, rec := range records {
		h, err := Decode(rec)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if h.Type != want[i] {
			t.Errorf("record %d type: got %d, want %d", i, h.Type, want[i])
		}
	}
}

func TestSplitIncomplete(t *testing.T) {
	data := append([]byte(`{"type":6}`), RecordSeparator)
	data = append(data, []byte(`{"type":1`)...)

	records, err := Split(data)
	if !errors.Is(err, ErrIncompleteRecord) {
		t.Fatalf("expected ErrIncompleteRecord, got %v", err)
	}
	if len(records) != 1 {
		t.Errorf("complete records before the tail should survive, got %d", len(records))
	}
}

func TestOversizedRecord(t *testing.T) {
	big := strings.Repeat("x", MaxRecordLen)
	_, err := Encode(map[string]string{"content": big})
	if err != ErrRecordTooLarge {
		t.Errorf("expected ErrRecordTooLarge, got %v", err)
	}
}

func TestMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"target":"x"}`))
	if err != ErrMissingType {
		t.Errorf("expected ErrMissingType, got %v", err)
	}
}

func TestHandshake(t *testing.T) {
	req, err := DecodeHandshakeRequest(EncodeHandshake())
	if err != nil {
		t.Fatalf("decode handshake request: %v", err)
	}
	if req.Protocol != Protocol || req.Version != ProtoVersion {
		t.Errorf("handshake: got %s/%d", req.Protocol, req.Version)
	}

	ok := append([]byte(`{}`), RecordSeparator)
	ping := append([]byte(`{"type":6}`), RecordSeparator)
	rest, err := DecodeHandshake(append(ok, ping...))
	if err != nil {
		t.Fatalf("decode handshake: %v", err)
	}
	if !bytes.Equal(rest, ping) {
		t.Errorf("rest: got %q, want %q", rest, ping)
	}
}

func TestHandshakeRejected(t *testing.T) {
	resp := append([]byte(`{"error":"Requested protocol 'json' is not available."}`), RecordSeparator)
	_, err := DecodeHandshake(resp)
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected ErrHandshakeRejected, got %v", err)
	}
}

func TestHandshakeWrongProtocol(t *testing.T) {
	rec, _ := Encode(HandshakeRequest{Protocol: "messagepack", Version: 1})
	_, err := DecodeHandshakeRequest(rec)
	if !errors.Is(err, ErrUnexpectedProtocol) {
		t.Errorf("expected ErrUnexpectedProtocol, got %v", err)
	}
}
