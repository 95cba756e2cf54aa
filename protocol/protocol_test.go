package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame := Frame{
		Type:    MsgCreate,
		Payload: map[string]any{"collection": "users", "data": map[string]any{"name": "Alice"}},
	}

	buf, err := Encode(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := ReadFrame(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if decoded.Type != MsgCreate {
		t.Fatalf("expected type %d, got %d", MsgCreate, decoded.Type)
	}
	if decoded.Payload["collection"] != "users" {
		t.Fatalf("expected collection users, got %v", decoded.Payload["collection"])
	}
}

func TestReadFrameBadMagic(t *testing.T) {
	var header [HeaderSize]byte
	header[0] = 0xFF // corrupt magic
	_, err := ReadFrame(bytes.NewReader(header[:]))
	if _, ok := err.(*FramingError); !ok {
		t.Fatalf("expected *FramingError, got %T: %v", err, err)
	}
}

func TestReadFrameUnsupportedVersion(t *testing.T) {
	frame := Frame{Type: MsgPing, Payload: map[string]any{}}
	buf, err := Encode(frame)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf[4] = 0x09 // corrupt version byte

	_, err = ReadFrame(bytes.NewReader(buf))
	if _, ok := err.(*FramingError); !ok {
		t.Fatalf("expected *FramingError, got %T: %v", err, err)
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	big := make([]byte, MaxPayloadBytes+1)
	frame := Frame{Type: MsgCreate, Payload: map[string]any{"data": big}}
	_, err := Encode(frame)
	if err == nil {
		t.Fatalf("expected error for oversize payload")
	}
}

func TestReadFrameOversizeLength(t *testing.T) {
	var header [HeaderSize]byte
	header[0], header[1], header[2], header[3] = 0x4E, 0x45, 0x58, 0x41
	header[4] = Version
	header[5] = MsgPing
	header[8], header[9], header[10], header[11] = 0xFF, 0xFF, 0xFF, 0xFF

	_, err := ReadFrame(bytes.NewReader(header[:]))
	if _, ok := err.(*FramingError); !ok {
		t.Fatalf("expected *FramingError for oversize length, got %T: %v", err, err)
	}
}
