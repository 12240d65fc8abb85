package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mwexplorer/chainstate/internal/util"
)

var (
	rateLimiter   = make(map[string]*ipRateLimit)
	rateLimiterMu sync.Mutex
)

type ipRateLimit struct {
	count     int
	lastReset time.Time
}

func checkOrigin(config *Config) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(config.AllowedOrigins) == 0 || contains(config.AllowedOrigins, "*") {
			return true
		}
		return contains(config.AllowedOrigins, origin)
	}
}

func contains(slice []string, value string) bool {
	for _, item := range slice {
		if item == value {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades requests to the single event-fanout stream at /ws.
func HandleWebSocket(hub *Hub, config *Config) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     checkOrigin(config),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		clientIP := r.RemoteAddr
		if !checkRateLimit(clientIP) {
			http.Error(w, "too many connections", http.StatusTooManyRequests)
			IncrementErrorMetrics("rate_limit_exceeded")
			return
		}

		if hub.Stats().ActiveConnections >= config.MaxConnections {
			http.Error(w, "max connections reached", http.StatusServiceUnavailable)
			IncrementErrorMetrics("max_connections_reached")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			util.Error("websocket upgrade failed", "error", err.Error())
			IncrementErrorMetrics("upgrade_failed")
			return
		}

		client := NewClient(uuid.NewString(), conn, hub)
		hub.register <- client

		go client.writePump()
		go client.readPump()

		util.Info("websocket connection established", "client_id", client.id, "remote_addr", r.RemoteAddr)
	}
}

func checkRateLimit(ip string) bool {
	rateLimiterMu.Lock()
	defer rateLimiterMu.Unlock()

	now := time.Now()
	limit, exists := rateLimiter[ip]
	if !exists {
		rateLimiter[ip] = &ipRateLimit{count: 1, lastReset: now}
		return true
	}

	if now.Sub(limit.lastReset) > time.Minute {
		limit.count = 1
		limit.lastReset = now
		return true
	}

	if limit.count >= 10 {
		return false
	}
	limit.count++
	return true
}
