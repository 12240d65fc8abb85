package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mwexplorer/chainstate/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1048576
)

// Client is one subscriber connection. Subscriptions are blockchain slugs;
// the reserved slug "*" subscribes to every blockchain.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	send chan BroadcastMessage

	subMu         sync.RWMutex
	subscriptions map[string]bool
}

// ControlMessage is a client->server subscribe/unsubscribe request.
type ControlMessage struct {
	Action string   `json:"action"`
	Slugs  []string `json:"slugs"`
}

func NewClient(id string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan BroadcastMessage, 256),
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				util.Error("websocket read error", "client_id", c.id, "error", err.Error())
				IncrementErrorMetrics("read_error")
			}
			break
		}

		var ctrl ControlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			util.Warn("invalid control message", "client_id", c.id, "error", err.Error())
			IncrementErrorMetrics("invalid_json")
			continue
		}
		c.handleControlMessage(ctrl)
	}
}

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
			if err := c.conn.WriteJSON(message); err != nil {
				util.Error("websocket write error", "client_id", c.id, "error", err.Error())
				IncrementErrorMetrics("write_error")
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

func (c *Client) handleControlMessage(msg ControlMessage) {
	switch msg.Action {
	case "subscribe":
		c.subscribe(msg.Slugs)
	case "unsubscribe":
		c.unsubscribe(msg.Slugs)
	default:
		util.Warn("unknown control action", "client_id", c.id, "action", msg.Action)
		IncrementErrorMetrics("unknown_action")
	}
}

func (c *Client) subscribe(slugs []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, slug := range slugs {
		c.subscriptions[slug] = true
	}
}

func (c *Client) unsubscribe(slugs []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, slug := range slugs {
		delete(c.subscriptions, slug)
	}
}

func (c *Client) isSubscribed(slug string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions["*"] || c.subscriptions[slug]
}
