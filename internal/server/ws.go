package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type eventType string

const (
	eventBBO       eventType = "bbo"
	eventImbalance eventType = "imbalance"
	eventStatus    eventType = "status"
	eventError     eventType = "error"
)

var eventBits = map[eventType]eventMask{
	eventBBO:       1 << 0,
	eventImbalance: 1 << 1,
	eventStatus:    1 << 2,
	eventError:     1 << 3,
}

// eventMask selects which event types a dashboard client receives.
type eventMask uint8

const allEvents eventMask = 1<<4 - 1

func (m eventMask) has(t eventType) bool { return m&eventBits[t] != 0 }

// parseEventMask reads a comma separated list such as "bbo,status". An empty
// list selects everything.
func parseEventMask(v string) (eventMask, error) {
	if strings.TrimSpace(v) == "" {
		return allEvents, nil
	}
	var m eventMask
	for _, name := range strings.Split(v, ",") {
		bit, ok := eventBits[eventType(strings.ToLower(strings.TrimSpace(name)))]
		if !ok {
			return 0, fmt.Errorf("unknown event type %q", name)
		}
		m |= bit
	}
	return m, nil
}

// event is queued by producers; the hub encodes it once for all clients.
type event struct {
	Type eventType
	Data any
}

type envelope struct {
	Type eventType `json:"type"`
	Seq  uint64    `json:"seq"`
	Data any       `json:"data"`
}

type hubStats struct {
	Clients int64  `json:"clients"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Evicted uint64 `json:"evicted"`
}

type hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	events     chan event
	logger     *slog.Logger

	// owned by run
	seq        uint64
	lastStatus []byte

	numClients atomic.Int64
	sent       atomic.Uint64
	dropped    atomic.Uint64
	evicted    atomic.Uint64
}

type client struct {
	id   string
	hub  *hub
	conn *websocket.Conn
	mask eventMask
	send chan []byte
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients:    map[*client]struct{}{},
		register:   make(chan *client),
		unregister: make(chan *client),
		events:     make(chan event, 1024),
		logger:     logger.With("component", "ws"),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.numClients.Store(int64(len(h.clients)))
			h.logger.Debug("client connected", slog.String("client", c.id), slog.Int("clients", len(h.clients)))
			// a new dashboard learns the feed state without waiting for a change
			if h.lastStatus != nil && c.mask.has(eventStatus) {
				h.deliver(c, h.lastStatus)
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("client gone", slog.String("client", c.id))
			}
		case ev := <-h.events:
			h.seq++
			msg, err := json.Marshal(envelope{Type: ev.Type, Seq: h.seq, Data: ev.Data})
			if err != nil {
				h.logger.Error("encode event", slog.String("type", string(ev.Type)), slog.String("err", err.Error()))
				continue
			}
			if ev.Type == eventStatus {
				h.lastStatus = msg
			}
			for c := range h.clients {
				if c.mask.has(ev.Type) {
					h.deliver(c, msg)
				}
			}
			h.sent.Add(1)
		}
	}
}

// deliver hands msg to c, evicting a client whose queue is full.
func (h *hub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client too slow, dropping", slog.String("client", c.id))
		h.evicted.Add(1)
		h.drop(c)
	}
}

func (h *hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.numClients.Store(int64(len(h.clients)))
}

// publish queues ev for every interested client without blocking the caller.
func (h *hub) publish(t eventType, data any) bool {
	select {
	case h.events <- event{Type: t, Data: data}:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

func (h *hub) stats() hubStats {
	return hubStats{
		Clients: h.numClients.Load(),
		Sent:    h.sent.Load(),
		Dropped: h.dropped.Load(),
		Evicted: h.evicted.Load(),
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout:  10 * time.Second,
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	CheckOrigin:       func(r *http.Request) bool { return true }, // local dashboard
	EnableCompression: true,
}

// GET /ws?types=bbo,imbalance,status,error
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	mask, err := parseEventMask(r.URL.Query().Get("types"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade", slog.String("err", err.Error()))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		mask: mask,
		send: make(chan []byte, 256),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// readPump only services control frames; dashboards never send data.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
