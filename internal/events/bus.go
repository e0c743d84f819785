// Package events provides the observable event stream for the raffle.
package events

import (
	"sync"
	"time"
)

// Event types emitted by the raffle engine.
const (
	TypeEntrantJoined      = "raffle.entrant.joined"
	TypeSelectionRequested = "raffle.selection.requested"
	TypeWinnerSelected     = "raffle.winner.selected"
)

// Event is a single observable raffle event.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	At   time.Time      `json:"at"`
}

// Client is a registered event subscriber.
type Client struct {
	ch   chan Event
	done chan struct{}
}

// Chan returns the client's receive channel.
func (c *Client) Chan() <-chan Event {
	return c.ch
}

// Done is closed when the client is unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Bus fans events out to registered clients. Slow consumers drop
// events rather than block the publisher.
type Bus struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{clients: map[*Client]struct{}{}}
}

// Subscribe registers a new client.
func (b *Bus) Subscribe() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	client := &Client{ch: make(chan Event, 16), done: make(chan struct{})}
	b.clients[client] = struct{}{}
	return client
}

// Unsubscribe removes a client and closes its channels.
func (b *Bus) Unsubscribe(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.ch)
		close(c.done)
	}
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(eventType string, data map[string]any) {
	evt := Event{Type: eventType, Data: data, At: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.ch <- evt:
		default:
		}
	}
}

// SubscriberCount returns the number of registered clients.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
