package eventstream

import (
	"context"

	"github.com/gorilla/websocket"
)

// Conn is one open duplex text channel
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to the event stream endpoint
type Dialer func(ctx context.Context, url string) (Conn, error)

// websocketConn adapts a gorilla websocket connection to Conn
type websocketConn struct {
	conn *websocket.Conn
}

// ReadMessage implements Conn
func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteMessage implements Conn
func (c *websocketConn) WriteMessage(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements Conn
func (c *websocketConn) Close() error {
	return c.conn.Close()
}

// WebSocketDialer dials the event stream over a websocket
func WebSocketDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}
