package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/infrastructure/logging"
)

// Topic is a feed channel a client can subscribe to.
type Topic string

const (
	TopicStatus        Topic = "status"
	TopicNotifications Topic = "notifications"
	TopicTickets       Topic = "tickets"
)

// AllTopics lists every topic in a stable order.
var AllTopics = []Topic{TopicStatus, TopicNotifications, TopicTickets}

// ParseTopic reports whether name is a known topic.
func ParseTopic(name string) (Topic, bool) {
	for _, t := range AllTopics {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

// Event is one message pushed to feed clients.
type Event struct {
	Type      string    `json:"type"`
	Topic     Topic     `json:"topic,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub maintains the set of active Clients and fans events out to the
// clients subscribed to each topic. The latest event per topic is kept and
// replayed to clients when they subscribe.
type Hub struct {
	// clients is the set of registered clients
	clients map[*Client]bool

	// rooms maps topics to subscribed clients
	rooms map[Topic]map[*Client]bool

	// latest is the last event broadcast on each topic
	latest map[Topic]Event

	// Broadcast channel for events
	broadcast chan Event

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// done is closed when Run returns
	done chan struct{}

	// mu protects clients, rooms and latest
	mu sync.RWMutex

	logger *slog.Logger
}

// NewHub creates a new feed hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[Topic]map[*Client]bool),
		latest:     make(map[Topic]Event),
		broadcast:  make(chan Event, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logging.OrNop(logger).With("component", "feed_hub"),
	}
}

// Broadcast queues an event for delivery. When the queue is full the event
// is dropped.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"event_type", event.Type,
			"topic", string(event.Topic),
		)
	}
}

// Run starts the hub's event loop until ctx is cancelled, then closes
// every client. It must run in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// register hands client to the event loop. It reports false when the hub
// has stopped or ctx ends first.
func (h *Hub) register(ctx context.Context, client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	topics := client.Topics()
	for _, topic := range topics {
		h.joinLocked(client, topic)
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("feed client registered",
		"client_id", client.ID,
		"topics", topics,
		"total_connections", total,
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	delete(h.clients, client)

	for _, topic := range client.Topics() {
		h.leaveLocked(client, topic)
	}

	client.CloseSend()

	h.logger.Info("feed client unregistered", "client_id", client.ID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.CloseSend()
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[Topic]map[*Client]bool)
}

// broadcastEvent records the event as the latest for its topic and sends it
// to every subscriber. Clients whose buffer is full are dropped.
func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	h.latest[event.Topic] = event
	room := h.rooms[event.Topic]
	clients := make([]*Client, 0, len(room))
	for client := range room {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	h.logger.Debug("broadcasting event",
		"event_type", event.Type,
		"topic", string(event.Topic),
		"client_count", len(clients),
	)

	for _, client := range clients {
		if !client.enqueue(event) {
			h.logger.Warn("client send buffer full, unregistering", "client_id", client.ID)
			h.unregisterClient(client)
		}
	}
}

// subscribe adds client to topic and replays the topic's latest event.
func (h *Hub) subscribe(client *Client, topic Topic) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	h.joinLocked(client, topic)
	h.mu.Unlock()

	h.logger.Debug("client subscribed", "client_id", client.ID, "topic", string(topic))
}

func (h *Hub) unsubscribe(client *Client, topic Topic) {
	h.mu.Lock()
	h.leaveLocked(client, topic)
	h.mu.Unlock()

	h.logger.Debug("client unsubscribed", "client_id", client.ID, "topic", string(topic))
}

func (h *Hub) joinLocked(client *Client, topic Topic) {
	if h.rooms[topic] == nil {
		h.rooms[topic] = make(map[*Client]bool)
	}
	if h.rooms[topic][client] {
		return
	}
	h.rooms[topic][client] = true
	client.addTopic(topic)

	if latest, ok := h.latest[topic]; ok {
		client.enqueue(latest)
	}
}

func (h *Hub) leaveLocked(client *Client, topic Topic) {
	if room, ok := h.rooms[topic]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}
	client.removeTopic(topic)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to topic
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}
