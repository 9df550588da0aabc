package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fabriz042/Chat-test/internal/logging"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// handshakeWait bounds how long a new connection may take to identify itself.
	handshakeWait = 10 * time.Second
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 8192
	// sendBufferSize is the per-connection outbound queue length.
	sendBufferSize = 256
)

// Client is a single live connection. The registry entry is its only owner;
// other components reach it through the Hub.
type Client struct {
	// ConnID identifies the connection itself, independent of the client id
	// announced in the handshake.
	ConnID string
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ConnID: uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Send enqueues data for the write pump without blocking. It fails when the
// connection has been closed or its queue is full.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and releases the
// underlying connection. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps frames from the connection into the hub. It runs in its own
// goroutine per client and always ends with the client disconnected from
// the hub, whatever stopped the loop.
func (c *Client) ReadPump(h *Hub) {
	log := logging.Component("ws")
	defer func() {
		h.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info().Str("conn", c.ConnID).Err(err).Msg("connection closed")
			}
			return
		}
		if err := h.HandleInbound(c, msg); err != nil {
			log.Debug().Str("conn", c.ConnID).Err(err).Msg("inbound envelope rejected")
		}
	}
}

// WritePump pumps messages from the send queue to the connection. It runs in
// its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
