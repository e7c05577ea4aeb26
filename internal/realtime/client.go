package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrSendBufferFull is returned when a slow client's outbound queue is full
	ErrSendBufferFull = errors.New("client send buffer full")
	// ErrClientClosed is returned when sending to a closed client
	ErrClientClosed = errors.New("client closed")
)

// Client adapts a websocket connection to Transport. Outbound messages are
// queued and written by WritePump; Send never blocks.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	maxMessageSize int64
	logger         *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn with a send queue of sendBuffer messages
func NewClient(conn *websocket.Conn, sendBuffer int, maxMessageSize int64, logger *zap.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Client{
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		maxMessageSize: maxMessageSize,
		logger:         logger,
	}
}

// Send queues payload for the write pump
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the socket
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// ReadPump reads inbound frames until the peer goes away, then releases the
// connection handle.
func (c *Client) ReadPump(ctx context.Context, manager *Manager, handle *Connection) {
	defer func() {
		manager.Release(handle)
		c.conn.Close()
		c.logger.Debug("read pump finished")
	}()

	if c.maxMessageSize > 0 {
		c.conn.SetReadLimit(c.maxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		manager.HandleMessage(ctx, handle.ClientID, message)
	}
}

// WritePump drains the send queue onto the socket, one frame per message,
// and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("write pump finished")
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
				c.logger.Warn("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping error", zap.Error(err))
				return
			}
		}
	}
}
