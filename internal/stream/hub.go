// Package stream fans bus events out to connected server-sent-event clients.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"school-admin/internal/event"
)

const clientBuffer = 32

var ErrClosed = errors.New("stream hub closed")

// Client receives pre-encoded SSE frames. Its channel is closed when the hub
// drops it (slow consumer) or shuts down.
type Client struct {
	send chan []byte
}

func (c *Client) Frames() <-chan []byte {
	return c.send
}

type Hub struct {
	// Registered clients; only touched by Run.
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	events      <-chan event.Event
	unsubscribe func()
}

// NewHub subscribes to bus right away so no event published after it returns
// is missed once Run starts.
func NewHub(bus event.Bus) *Hub {
	events, unsubscribe := bus.Subscribe()
	return &Hub{
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		events:      events,
		unsubscribe: unsubscribe,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.unsubscribe()
		for client := range h.clients {
			close(client.send)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case e, ok := <-h.events:
			if !ok {
				return
			}
			frame, err := Frame(e)
			if err != nil {
				slog.Error("failed to encode stream event", "type", e.Type, "error", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					slog.Warn("dropping slow stream client")
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Join registers a new client. It fails once the hub has stopped.
func (h *Hub) Join(ctx context.Context) (*Client, error) {
	client := &Client{send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- client:
		return client, nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Frame encodes e as one server-sent event.
func Frame(e event.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data), nil
}
