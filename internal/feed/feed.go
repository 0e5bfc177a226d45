// Package feed streams transcripts to websocket clients as they are produced.
//
// Each connected client gets its own bounded queue. [Hub.Publish] never
// blocks: a client whose queue is full misses the message, and the drop is
// counted. Clients are removed when they disconnect or a write fails.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earwig/internal/observe"
	"github.com/MrWong99/earwig/pkg/listen"
)

// Path is the route the hub is mounted on.
const Path = "/ws"

const (
	defaultQueueSize    = 32
	defaultWriteTimeout = 5 * time.Second
)

// Message is the JSON document sent to clients for every transcript.
type Message struct {
	Type string `json:"type"`
	listen.Transcript

	// Action is the command the transcript triggered.
	Action string `json:"action"`
}

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueSize sets the per-client queue length.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) { h.writeTimeout = d }
}

// WithOriginPatterns sets the origins accepted in addition to the request
// host. See websocket.AcceptOptions.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// WithMetrics records the connected client count on m.FeedClients.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

type client struct {
	send chan []byte
}

// Hub fans transcripts out to websocket clients. It implements
// [http.Handler]; mount it at [Path].
type Hub struct {
	queueSize    int
	writeTimeout time.Duration
	origins      []string
	metrics      *observe.Metrics
	log          *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Uint64
}

var _ http.Handler = (*Hub)(nil)

// NewHub returns a hub with no clients.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		queueSize:    defaultQueueSize,
		writeTimeout: defaultWriteTimeout,
		log:          slog.Default(),
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request to a websocket and streams messages to it
// until the client disconnects or the hub is closed. Anything the client
// sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("feed: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{send: make(chan []byte, h.queueSize)}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(c)

	log := observe.LoggerFrom(r.Context(), h.log)
	log.Info("feed: client connected", "remote", r.RemoteAddr)

	// CloseRead discards incoming frames and cancels ctx once the peer goes
	// away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			log.Info("feed: client disconnected", "remote", r.RemoteAddr)
			_ = conn.CloseNow()
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				log.Debug("feed: write failed", "remote", r.RemoteAddr, "err", err)
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.metrics != nil {
		h.metrics.FeedClients.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.metrics != nil {
		h.metrics.FeedClients.Add(context.Background(), -1)
	}
}

// Publish sends t to every connected client.
func (h *Hub) Publish(t listen.Transcript, action string) {
	data, err := json.Marshal(Message{Type: "transcript", Transcript: t, Action: action})
	if err != nil {
		h.log.Error("feed: encode message", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of messages skipped because a client's queue
// was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every client and rejects new ones. It does not wait for
// the connections to finish closing.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
		if h.metrics != nil {
			h.metrics.FeedClients.Add(context.Background(), -1)
		}
	}
}
