// Package websocket fans engine events out to subscribed browser clients: a
// single hub goroutine processes broadcasts in the order the engine
// published them, so a per-blockchain commit order is never reordered on the
// way to a client.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/mwexplorer/chainstate/internal/ingest"
	"github.com/mwexplorer/chainstate/internal/util"
)

// Hub manages WebSocket client connections and fans out engine events.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastMessage

	mu    sync.RWMutex
	stats HubStats
}

// BroadcastMessage is one engine event addressed to subscribers of a
// blockchain slug ("*" matches every subscription).
type BroadcastMessage struct {
	Kind           string      `json:"type"`
	BlockchainSlug string      `json:"blockchain,omitempty"`
	Payload        interface{} `json:"data"`
}

type HubStats struct {
	TotalConnections   uint64
	ActiveConnections  int
	MessagesSent       uint64
	MessagesDropped    uint64
	BroadcastLatencyMs int64
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage, 256),
	}
}

// Run processes register/unregister/broadcast events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	util.Info("websocket hub starting")
	for {
		select {
		case <-ctx.Done():
			util.Info("websocket hub shutting down")
			h.closeAllClients()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Publish implements ingest.EventSink. It is always called synchronously
// from the committing goroutine, after the triggering transaction has
// committed, so ordering on the broadcast channel matches commit order.
func (h *Hub) Publish(event ingest.Event) {
	message := BroadcastMessage{
		Kind:           string(event.Kind),
		BlockchainSlug: event.BlockchainSlug,
		Payload:        event.Payload,
	}
	select {
	case h.broadcast <- message:
	default:
		util.Warn("broadcast channel full, dropping event", "kind", message.Kind, "blockchain", message.BlockchainSlug)
		IncrementErrorMetrics("broadcast_buffer_full")
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections = len(h.clients)
	active := h.stats.ActiveConnections
	h.mu.Unlock()

	util.Info("websocket client registered", "client_id", client.id, "active_connections", active)
	UpdateConnectionMetrics(active)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	active := len(h.clients)
	h.stats.ActiveConnections = active
	h.mu.Unlock()

	util.Info("websocket client unregistered", "client_id", client.id, "active_connections", active)
	UpdateConnectionMetrics(active)
}

func (h *Hub) broadcastMessage(message BroadcastMessage) {
	start := time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	sent, dropped := 0, 0
	for client := range h.clients {
		if !client.isSubscribed(message.BlockchainSlug) {
			continue
		}
		select {
		case client.send <- message:
			sent++
		default:
			dropped++
			util.Warn("websocket client send buffer full, dropping message", "client_id", client.id, "kind", message.Kind)
			IncrementErrorMetrics("buffer_full")
		}
	}

	h.stats.MessagesSent += uint64(sent)
	h.stats.MessagesDropped += uint64(dropped)
	h.stats.BroadcastLatencyMs = time.Since(start).Milliseconds()
	IncrementMessageMetrics(message.Kind, sent)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
	h.stats.ActiveConnections = 0
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}
