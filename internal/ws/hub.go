package ws

import (
	"context"
	"encoding/json"
	"log"
)

type notification struct {
	userID  string
	payload []byte
}

// Hub tracks the websocket clients of every user and pushes events to them.
type Hub struct {
	// Registered clients, by user id.
	clients map[string]map[*Client]bool

	// Events to deliver to all clients of one user.
	notify chan notification

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed once Run returns.
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		notify:     make(chan notification, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			return
		case client := <-h.register:
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
		case client := <-h.unregister:
			h.remove(client)
		case n := <-h.notify:
			for client := range h.clients[n.userID] {
				select {
				case client.send <- n.payload:
				default:
					// Slow client; drop it rather than block the hub.
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients := h.clients[client.userID]
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
}

// Publish queues event for every connected client of userID. It never
// blocks the caller; events are dropped when the hub is saturated.
func (h *Hub) Publish(userID string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws: marshal event for %s: %v", userID, err)
		return
	}
	select {
	case h.notify <- notification{userID: userID, payload: payload}:
	default:
		log.Printf("ws: hub saturated, dropping event for %s", userID)
	}
}
