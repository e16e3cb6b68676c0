package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Hub fans events out to connected websocket clients. It implements
// Publisher.
type Hub struct {
	// Registered clients: client id -> client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a hub; call Run to start it
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then disconnects everyone
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.ID]; ok && old != client {
				close(old.send)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("📡 Notify: subscriber connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.ID]; ok && current == client {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Notify: subscriber disconnected: %s", client.ID)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count is the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends ev to every client subscribed to its package. Slow
// clients whose buffer is full miss the event.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for _, client := range h.clients {
		if !client.wants(ev.PackageID) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		log.Printf("⚠️ Notify: %s dropped for %d slow subscribers", ev.Type, dropped)
	}
	return nil
}
