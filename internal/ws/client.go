package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-service/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client is one live authenticated connection. Events arriving on it are
// handled strictly in the order received; handlers for different clients
// run independently.
type Client struct {
	info    ConnInfo
	user    auth.Identity
	conn    *websocket.Conn
	session *SessionHandler
	send    chan []byte
	done    chan struct{}
	closing sync.Once
}

func newClient(conn *websocket.Conn, session *SessionHandler, user auth.Identity, info ConnInfo) *Client {
	return &Client{
		info:    info,
		user:    user,
		conn:    conn,
		session: session,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

// queue hands a pre-serialized frame to the write pump. A full buffer drops
// the frame rather than blocking the broadcaster.
func (c *Client) queue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		log.Printf("ws: conn %s: send buffer full, dropping frame", c.info.ConnID)
		return false
	}
}

// sendEvent serializes and queues an event for this connection only.
func (c *Client) sendEvent(event ServerEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws: marshal %s event: %v", event.Event, err)
		return
	}
	c.queue(payload)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump() {
	var closeReason string
	defer func() {
		c.closing.Do(func() { close(c.done) })
		c.conn.Close()
		c.session.dropClient(c, closeReason)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: user %d read: %v", c.user.ID, err)
			}
			return
		}
		c.session.dispatch(c, raw)
	}
}
