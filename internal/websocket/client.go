package websocket

import (
	"context"
	"sync"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// Client represents a single WebSocket connection bound to a session.
type Client struct {
	hub       *Hub
	conn      *ws.Conn
	send      chan []byte
	sessionID int64
	userID    int64
	teamIDs   []int64

	revokeOnce sync.Once
	revoked    chan []byte
}

// NewClient creates a Client tied to the given hub, connection and session.
func NewClient(hub *Hub, conn *ws.Conn, sessionID, userID int64, teamIDs []int64) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		sessionID: sessionID,
		userID:    userID,
		teamIDs:   teamIDs,
		revoked:   make(chan []byte, 1),
	}
}

// revoke queues a final message; the write pump sends it and closes the
// connection.
func (c *Client) revoke(final []byte) {
	c.revokeOnce.Do(func() {
		c.revoked <- final
	})
}

// Run registers the client, starts the write pump, and runs the read pump.
// It blocks until the connection is closed, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		c.writePump(ctx)
		cancel()
	}()
	c.readPump(ctx)
}

// readPump reads and discards all incoming messages. It returns on error
// (connection close), which triggers cleanup.
func (c *Client) readPump(ctx context.Context) {
	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
	}
}

// writePump drains the send channel and writes messages to the WebSocket.
// It also sends periodic pings to detect stale connections.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case final := <-c.revoked:
			c.conn.Write(ctx, ws.MessageText, final)
			c.conn.Close(ws.StatusPolicyViolation, "session revoked")
			return
		case msg, ok := <-c.send:
			if !ok {
				// Unregistered by the hub
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
