package sse

import (
	"path"
	"sync"
	"sync/atomic"

	"github.com/kbukum/mmalkit/logger"
)

const clientBuffer = 64

type frame struct {
	event string
	data  []byte
}

// Client is one connected subscriber.
type Client struct {
	id      string
	filter  string
	frames  chan frame
	dropped atomic.Uint64
}

// NewClient subscribes id to topics matching filter. An empty filter
// matches everything.
func NewClient(id, filter string) *Client {
	if filter == "" {
		filter = "*"
	}
	return &Client{id: id, filter: filter, frames: make(chan frame, clientBuffer)}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Filter() string { return c.filter }

// Dropped returns how many events the client was too slow to take.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// matches reports whether topic is covered by the filter. A malformed
// filter matches nothing.
func (c *Client) matches(topic string) bool {
	ok, err := path.Match(c.filter, topic)
	return err == nil && ok
}

func (c *Client) send(f frame) bool {
	select {
	case c.frames <- f:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Hub fans published events out to subscribed clients.
type Hub struct {
	log *logger.Logger

	register   chan *Client
	unregister chan *Client
	events     chan Event
	done       chan struct{}
	stopOnce   sync.Once

	mu        sync.RWMutex
	clients   map[string]*Client
	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub returns a hub. Run must be started before clients connect.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Get("sse")
	}
	return &Hub{
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run routes registrations and events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[c.id]; ok {
				close(old.frames)
			}
			h.clients[c.id] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client subscribed", logger.Fields("client_id", c.id, "filter", c.filter, "clients", n))
		case c := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[c.id]; ok && cur == c {
				delete(h.clients, c.id)
				close(c.frames)
			}
			h.mu.Unlock()
			h.log.Debug("client left", logger.Fields("client_id", c.id))
		case ev := <-h.events:
			h.fanOut(ev)
		}
	}
}

// Stop disconnects every client and ends Run. It is safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.frames)
		delete(h.clients, id)
	}
}

// Register subscribes c. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues ev for delivery. Events published while the queue is
// full are counted and dropped.
func (h *Hub) Publish(ev Event) {
	select {
	case h.events <- ev:
		h.published.Add(1)
	case <-h.done:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) fanOut(ev Event) {
	f := frame{event: ev.Type, data: ev.encode()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if !c.matches(ev.Topic) {
			continue
		}
		if c.send(f) {
			delivered++
		} else {
			h.log.Warn("client too slow, event dropped", logger.Fields("client_id", c.id, "type", ev.Type))
		}
	}
	h.log.Trace("event published", logger.Fields("type", ev.Type, "topic", ev.Topic, "delivered", delivered))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client returns the subscriber with id, or nil.
func (h *Hub) Client(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// HubStats counts hub traffic.
type HubStats struct {
	Clients   int    `json:"clients"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

func (h *Hub) Stats() HubStats {
	return HubStats{Clients: h.ClientCount(), Published: h.published.Load(), Dropped: h.dropped.Load()}
}

var _ Publisher = (*Hub)(nil)
