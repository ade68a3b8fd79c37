package room

import (
	"sync"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"log/slog"

	"github.com/dalive/collabworker/internal/awareness"
)

// outboundBuffer bounds the per-connection write queue. A connection that
// cannot keep up is treated as gone, matching the at-least-once-up-to-close
// broadcast guarantee rather than letting one slow reader back-pressure the
// whole Room.
const outboundBuffer = 256

// Connection is a single live WebSocket bound to one Room, per spec.md 3.
type Connection struct {
	id         uint64
	ws         *websocket.Conn
	room       *Room
	credential string
	readOnly   bool
	syncState  *automerge.SyncState

	send chan []byte
	done chan struct{}

	mu           sync.Mutex
	awarenessIDs map[awareness.ClientID]struct{}

	closeOnce sync.Once
}

func newConnection(id uint64, ws *websocket.Conn, room *Room, credential string, readOnly bool, ss *automerge.SyncState) *Connection {
	return &Connection{
		id:           id,
		ws:           ws,
		room:         room,
		credential:   credential,
		readOnly:     readOnly,
		syncState:    ss,
		send:         make(chan []byte, outboundBuffer),
		done:         make(chan struct{}),
		awarenessIDs: make(map[awareness.ClientID]struct{}),
	}
}

// enqueue queues a frame for the write pump. A full queue closes the
// connection rather than blocking the broadcasting goroutine. The send
// channel is never closed (only readers would need to learn that, and
// close() signals it instead), so this never risks a send-on-closed-channel
// panic racing with Close.
func (c *Connection) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.Close()
	}
}

func (c *Connection) trackAwareness(id awareness.ClientID) {
	c.mu.Lock()
	c.awarenessIDs[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) controlledAwarenessIDs() []awareness.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]awareness.ClientID, 0, len(c.awarenessIDs))
	for id := range c.awarenessIDs {
		out = append(out, id)
	}
	return out
}

// Close closes the underlying socket and its write pump. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// readPump reads inbound frames and hands each off to the Room's mailbox,
// so decoding and application happen on the Room's single goroutine.
func (c *Connection) readPump() {
	defer c.room.post(func() { c.room.removeConnection(c) })
	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		msg := append([]byte(nil), payload...)
		c.room.post(func() { c.room.handleInbound(c, msg) })
	}
}

// writePump drains the outbound queue until the connection is closed.
func (c *Connection) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				slog.Warn("room: write failed, dropping connection", "err", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
