package ws

import (
	"sync"
	"time"

	"live-interview-chat/backend/internal/room"
	"live-interview-chat/backend/pkg/ws"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 16 * 1024
)

// Client is the transport side of one socket. It implements room.Sender so
// the registry can push frames without knowing about websockets.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler *Handler
	state   *room.Connection

	closeOnce sync.Once
}

// Enqueue queues an outbound frame without blocking. A full buffer means
// the peer is too slow; the frame is dropped and false returned.
func (c *Client) Enqueue(data []byte) bool {
	if data == nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the outbound channel, which ends the write pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// readPump reads frames off the socket and dispatches them in order.
// Dispatch is synchronous: the pipeline's stage ordering depends on
// messages from one connection being handled one at a time.
func (c *Client) readPump() {
	defer func() {
		c.handler.registry.Disconnect(c.state)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handler.registry.Touch(c.state)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.log.Debug("socket read failed", "connection_id", c.state.ID, "error", err.Error())
			}
			return
		}
		c.handler.dispatch(c, data)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush whatever else queued up, each as its own frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends an envelope to this client only.
func (c *Client) reply(eventType ws.EventType, payload any) {
	c.Enqueue(ws.MustMarshal(eventType, payload))
}
