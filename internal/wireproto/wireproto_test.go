package wireproto

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeSyncStep1(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	raw := EncodeSyncStep1(payload)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindSync || frame.SyncKind != SyncStep1 {
		t.Fatalf("unexpected kind: %+v", frame)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("payload mismatch: %v", frame.Payload)
	}
}

func TestEncodeDecodeUpdate(t *testing.T) {
	payload := []byte("an update")
	raw := EncodeUpdate(payload)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindSync || frame.SyncKind != SyncIncrementalUpdate {
		t.Fatalf("unexpected kind: %+v", frame)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("payload mismatch: %v", frame.Payload)
	}
}

func TestEncodeDecodeAwareness(t *testing.T) {
	payload := []byte("awareness state")
	raw := EncodeAwareness(payload)
	frame, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != KindAwareness {
		t.Fatalf("unexpected kind: %+v", frame)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("payload mismatch: %v", frame.Payload)
	}
}

func TestDecodeEmpty(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error decoding empty message")
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := Decode([]byte{99}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDecodeUnknownSyncSubKind(t *testing.T) {
	raw := []byte{byte(KindSync), 99}
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for unknown sync sub-kind")
	}
}
