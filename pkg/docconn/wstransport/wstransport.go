// Package wstransport provides the reference docconn.Transport
// implementation, wrapping a gorilla/websocket connection.
package wstransport

import (
	"github.com/gorilla/websocket"
)

// Transport adapts a *websocket.Conn to docconn.Transport. The HTTP
// surface (out of core scope) is responsible for upgrading the
// request and constructing one of these per connection.
type Transport struct {
	conn *websocket.Conn
}

// New wraps conn as a docconn.Transport.
func New(conn *websocket.Conn) *Transport {
	return &Transport{conn: conn}
}

// Send writes frame as one binary websocket message.
func (t *Transport) Send(frame []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Recv blocks for the next binary websocket message. Non-binary
// messages (e.g. stray text/ping control frames beyond what gorilla
// handles internally) are skipped.
func (t *Transport) Recv() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// Close closes the underlying websocket connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
