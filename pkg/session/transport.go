package session

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"

	"github.com/hferris/balloonburst-online/pkg/protocol"
)

// WebsocketTransport dials the server's /ws endpoint with the room code in
// the query string.
type WebsocketTransport struct {
	// URL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	URL string
}

func (t *WebsocketTransport) Dial(ctx context.Context, roomCode string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, t.URL+"?code="+url.QueryEscape(roomCode), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, m protocol.Message) error {
	payload, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return w.c.Write(ctx, websocket.MessageText, payload)
}

func (w *wsConn) Receive(ctx context.Context) (protocol.Message, error) {
	for {
		_, data, err := w.c.Read(ctx)
		if err != nil {
			return protocol.Message{}, err
		}
		m, err := protocol.Decode(data)
		if err != nil {
			// Malformed or unknown frames are dropped, not fatal.
			continue
		}
		return m, nil
	}
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}
