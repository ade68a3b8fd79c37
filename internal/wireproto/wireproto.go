// Package wireproto frames the client<->server WebSocket messages used by a
// Room: a leading varint message kind, followed by a kind-specific payload.
package wireproto

import (
	"encoding/binary"
	"fmt"
)

// Kind is the outermost varint of a frame.
type Kind uint64

const (
	KindSync      Kind = 0
	KindAwareness Kind = 1
)

// SyncKind is the inner varint of a Sync frame.
type SyncKind uint64

const (
	SyncStep1            SyncKind = 0
	SyncStep2            SyncKind = 1
	SyncIncrementalUpdate SyncKind = 2
)

// DecodeError wraps a framing failure so callers can surface it via the
// CRDT "error" map without treating it as fatal to the connection.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wireproto: %s", e.Reason)
}

// Frame is a fully decoded inbound message.
type Frame struct {
	Kind     Kind
	SyncKind SyncKind // only meaningful when Kind == KindSync
	Payload  []byte
}

// Decode parses a single binary WebSocket message into a Frame.
func Decode(raw []byte) (Frame, error) {
	kindVal, n := binary.Uvarint(raw)
	if n <= 0 {
		return Frame{}, &DecodeError{Reason: "missing message kind varint"}
	}
	rest := raw[n:]
	kind := Kind(kindVal)

	switch kind {
	case KindSync:
		skVal, sn := binary.Uvarint(rest)
		if sn <= 0 {
			return Frame{}, &DecodeError{Reason: "missing sync sub-kind varint"}
		}
		sk := SyncKind(skVal)
		switch sk {
		case SyncStep1, SyncStep2, SyncIncrementalUpdate:
		default:
			return Frame{}, &DecodeError{Reason: fmt.Sprintf("unknown sync sub-kind %d", skVal)}
		}
		return Frame{Kind: KindSync, SyncKind: sk, Payload: rest[sn:]}, nil
	case KindAwareness:
		return Frame{Kind: KindAwareness, Payload: rest}, nil
	default:
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("unknown message kind %d", kindVal)}
	}
}

// EncodeSyncStep1 frames a sync step 1 payload (the sender's state vector).
func EncodeSyncStep1(stateVector []byte) []byte {
	return encodeSync(SyncStep1, stateVector)
}

// EncodeSyncStep2 frames a sync step 2 payload (the diff the receiver lacks).
func EncodeSyncStep2(diff []byte) []byte {
	return encodeSync(SyncStep2, diff)
}

// EncodeUpdate frames an incremental CRDT update broadcast after a local
// mutation.
func EncodeUpdate(update []byte) []byte {
	return encodeSync(SyncIncrementalUpdate, update)
}

func encodeSync(sk SyncKind, payload []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*2+len(payload))
	buf = appendUvarint(buf, uint64(KindSync))
	buf = appendUvarint(buf, uint64(sk))
	buf = append(buf, payload...)
	return buf
}

// EncodeAwareness frames an already-encoded awareness update.
func EncodeAwareness(payload []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(payload))
	buf = appendUvarint(buf, uint64(KindAwareness))
	buf = append(buf, payload...)
	return buf
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
