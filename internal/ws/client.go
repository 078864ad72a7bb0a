package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"atelier/api/internal/collab"
)

// sendBuffer bounds the per-connection outbound queue. A consumer that falls
// this far behind starts losing events and must resync from a snapshot.
const sendBuffer = 64

// client adapts one WebSocket connection to the room fan-out contract.
// Deliver never blocks the room goroutine.
type client struct {
	id       string
	userID   string
	username string
	send     chan collab.Envelope
	closed   chan struct{}
	once     sync.Once
}

func newClient(userID, username string) *client {
	return &client{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		send:     make(chan collab.Envelope, sendBuffer),
		closed:   make(chan struct{}),
	}
}

func (c *client) ID() string       { return c.id }
func (c *client) UserID() string   { return c.userID }
func (c *client) Username() string { return c.username }

func (c *client) Deliver(env collab.Envelope) {
	select {
	case <-c.closed:
	case c.send <- env:
	default:
		log.Printf("ws: conn %s: send buffer full, dropping %s", c.id, env.Event)
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.closed) })
}

// writePump drains the send queue onto the wire. It owns all writes for the
// connection.
func (c *client) writePump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case env := <-c.send:
			data, err := json.Marshal(env)
			if err != nil {
				log.Printf("ws: conn %s: marshal %s: %v", c.id, env.Event, err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
