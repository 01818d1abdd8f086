// Package network streams simulation events to observers over WebSocket.
// Observers are read-only: the hub broadcasts the engine's event history
// as it grows and answers nothing else.
package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/logger"
)

// Hub maintains the set of active observers and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	logger     *logger.Logger
}

// NewHub initializes a new observer hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     log,
	}
}

// Run starts the hub's main loop to handle observer connections and
// broadcasts.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("observer hub shutting down")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("observer connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("observer disconnected")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastEvent serializes a system event and sends it to all observers.
func (h *Hub) BroadcastEvent(evt events.SystemEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to serialize event for broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// Observers are best-effort; never block the simulation.
	}
}

// StartEventPoller spawns a goroutine that follows the bus history and
// pushes new events to the hub. Polling keeps the hub decoupled from the
// bus's synchronous dispatch path.
func (h *Hub) StartEventPoller(ctx context.Context, bus *events.Bus) {
	go func() {
		pollInterval := time.NewTicker(200 * time.Millisecond)
		defer pollInterval.Stop()

		var lastSeen time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case <-pollInterval.C:
				fresh := bus.GetHistory(events.HistoryFilter{Since: lastSeen.Add(time.Nanosecond)})
				for _, evt := range fresh {
					h.BroadcastEvent(evt)
					if evt.Timestamp.After(lastSeen) {
						lastSeen = evt.Timestamp
					}
				}
			}
		}
	}()
}
