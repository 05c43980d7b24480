// Package transport wraps a websocket connection to the presenter client in
// the duplex framing the orchestrator expects: JSON text frames for control
// messages, binary frames for raw PCM audio.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrDisconnected is returned once the peer is gone, for any reason. All
// later sends and receives keep returning it.
var ErrDisconnected = errors.New("transport disconnected")

const defaultWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is one inbound client frame. Binary frames carry raw audio; text
// frames carry a JSON control message.
type Frame struct {
	Binary bool
	Data   []byte
}

// Transport is a websocket to one presenter client. Reads happen from a
// single loop; writes are serialized internally and safe for concurrent use.
type Transport struct {
	conn *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration

	connected atomic.Bool
	closeOnce sync.Once
}

// Upgrade hijacks an HTTP request into a websocket transport.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return NewTransport(conn), nil
}

func NewTransport(conn *websocket.Conn) *Transport {
	t := &Transport{conn: conn, writeTimeout: defaultWriteTimeout}
	t.connected.Store(true)
	return t
}

// Receive blocks for the next client frame. Callers run it from one loop;
// ctx cancellation tears the connection down rather than leaving a read
// pending forever.
func (t *Transport) Receive(ctx context.Context) (Frame, error) {
	if !t.connected.Load() {
		return Frame{}, ErrDisconnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return Frame{}, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	msgType, data, err := t.conn.ReadMessage()
	if err != nil {
		t.markDisconnected()
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		return Frame{}, fmt.Errorf("failed to read client frame: %w", ErrDisconnected)
	}

	return Frame{Binary: msgType == websocket.BinaryMessage, Data: data}, nil
}

// SendJSON writes a control message as a text frame.
func (t *Transport) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode outbound message: %w", err)
	}
	return t.write(websocket.TextMessage, data)
}

// SendBinary writes a raw audio frame.
func (t *Transport) SendBinary(data []byte) error {
	return t.write(websocket.BinaryMessage, data)
}

func (t *Transport) write(msgType int, data []byte) error {
	if !t.connected.Load() {
		return ErrDisconnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(msgType, data); err != nil {
		t.markDisconnected()
		return fmt.Errorf("failed to write client frame: %w", ErrDisconnected)
	}
	return nil
}

func (t *Transport) markDisconnected() {
	t.connected.Store(false)
}

// Close sends a best-effort close frame and tears the connection down.
// Subsequent calls are no-ops.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(t.writeTimeout))
		t.writeMu.Unlock()

		t.markDisconnected()
		err = t.conn.Close()
	})
	return err
}
