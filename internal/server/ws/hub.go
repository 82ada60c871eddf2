// Package ws fans settlement results and period state changes out to
// websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/drawcore/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// replayLimit caps the results sent to a reconnecting client.
	replayLimit = 500
)

// channelTypes maps bus channels to the envelope type sent to clients.
var channelTypes = map[string]string{
	domain.ChannelResult: "result",
	domain.ChannelPeriod: "period",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// envelope is the frame written to clients. Payload is the bus message as is.
// ID is the result stream cursor and is set on replayed frames only.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// kinds filters by game kind; empty means every kind.
	kinds map[domain.GameKind]bool
	types map[string]bool
	mu    sync.RWMutex
}

// subscribeMsg is sent by clients to narrow or widen their feed:
//
//	{"action":"subscribe","types":["result"],"game_kinds":["combinatorial5"]}
type subscribeMsg struct {
	Action    string   `json:"action"`
	Types     []string `json:"types"`
	GameKinds []string `json:"game_kinds"`
}

// Hub bridges the signal bus to connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

type broadcastMsg struct {
	typ  string
	kind domain.GameKind
	data []byte
}

// Config is reported to clients in the status frame sent on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for ch, typ := range channelTypes {
		go h.subscribeToChannel(ctx, ch, typ)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.typ, msg.kind) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscribeToChannel(ctx context.Context, channel, typ string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			msg, err := frame(typ, data)
			if err != nil {
				h.logger.Warn("ws: bad bus message", slog.String("channel", channel), slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// frame wraps a bus payload and extracts its game kind for filtering. Both
// results and period events carry the period under "period".
func frame(typ string, data []byte) (broadcastMsg, error) {
	var head struct {
		Period domain.PeriodRef `json:"period"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return broadcastMsg{}, err
	}
	out, err := json.Marshal(envelope{Type: typ, Payload: data})
	if err != nil {
		return broadcastMsg{}, err
	}
	return broadcastMsg{typ: typ, kind: head.Period.Kind, data: out}, nil
}

// HandleWS upgrades the request and registers the client. Query parameters
// seed the subscription: game_kind (repeatable) narrows the feed and since
// (a stream ID or unix milliseconds) replays results appended after it.
// Replay is at-least-once; a result can arrive both replayed and live.
// GET /ws?since=1768000000000&game_kind=triple_dice
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		kinds: make(map[domain.GameKind]bool),
		types: make(map[string]bool),
	}
	for _, typ := range channelTypes {
		c.types[typ] = true
	}
	c.handleSubscription(subscribeMsg{Action: "subscribe", GameKinds: r.URL.Query()["game_kind"]})

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Registered first so nothing settled during the replay read is missed.
	backlog := [][]byte{c.statusFrame()}
	if since := r.URL.Query().Get("since"); since != "" {
		backlog = append(backlog, h.replay(c, since)...)
	}

	go c.writePump(backlog)
	go c.readPump()
}

// replay reads results after since from the durable stream, filtered for c.
func (h *Hub) replay(c *client, since string) [][]byte {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	msgs, err := h.bus.StreamRead(ctx, domain.StreamResults, since, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay read failed", slog.String("since", since), slog.String("error", err.Error()))
		return nil
	}
	typ := channelTypes[domain.ChannelResult]
	var out [][]byte
	for _, m := range msgs {
		msg, err := frame(typ, m.Payload)
		if err != nil || !c.wants(typ, msg.kind) {
			continue
		}
		data, err := json.Marshal(envelope{Type: typ, ID: m.ID, Payload: m.Payload})
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	on := msg.Action == "subscribe"
	if !on && msg.Action != "unsubscribe" {
		return
	}
	for _, t := range msg.Types {
		if on {
			c.types[t] = true
		} else {
			delete(c.types, t)
		}
	}
	for _, k := range msg.GameKinds {
		kind, err := domain.ParseGameKind(k)
		if err != nil {
			continue
		}
		if on {
			c.kinds[kind] = true
		} else {
			delete(c.kinds, kind)
		}
	}
}

// wants reports whether the client receives a message of typ for kind.
func (c *client) wants(typ string, kind domain.GameKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.types[typ] {
		return false
	}
	return len(c.kinds) == 0 || c.kinds[kind]
}

func (c *client) statusFrame() []byte {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	payload, _ := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
	})
	msg, _ := json.Marshal(envelope{Type: "status", Payload: payload})
	return msg
}

// writePump writes backlog, then hub messages, as text frames and pings for
// keepalive.
func (c *client) writePump(backlog [][]byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, message := range backlog {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
