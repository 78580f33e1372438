// Package ws pushes settlement notices to connected members over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/townworks/internal/config"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 512
)

type client struct {
	member     string
	settlement string
	conn       *websocket.Conn
	send       chan []byte
	limiter    *rate.Limiter
	closeOnce  sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub tracks member connections by settlement and implements settlement.Notifier.
type Hub struct {
	cfg       config.NotifyConfig
	directory *settlement.Directory
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool

	dropped atomic.Int64
	srv     *http.Server
}

// NewHub creates a Hub. When directory is non-nil, connections are accepted
// only for members listed on the requested settlement.
//
// Precondition: logger must not be nil.
func NewHub(cfg config.NotifyConfig, directory *settlement.Directory, logger *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/notices"
	}
	return &Hub{
		cfg:       cfg,
		directory: directory,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) limiter() *rate.Limiter {
	if h.cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), max(h.cfg.Burst, 1))
}

// Notify queues n for every member of n.Settlement connected to this hub.
// Notices over a member's rate or send buffer are dropped.
func (h *Hub) Notify(n settlement.Notice) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.clients[n.Settlement]
	if len(members) == 0 {
		return
	}
	b, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("encoding notice", zap.Error(err))
		return
	}
	for c := range members {
		if !c.limiter.Allow() {
			h.drop(c, "rate limited")
			continue
		}
		select {
		case c.send <- b:
		default:
			h.drop(c, "send buffer full")
		}
	}
}

func (h *Hub) drop(c *client, reason string) {
	h.dropped.Add(1)
	h.logger.Debug("notice dropped",
		zap.String("member", c.member),
		zap.String("settlement", c.settlement),
		zap.String("reason", reason),
	)
}

// Dropped returns the number of notices discarded by throttling.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Online returns the sorted member names connected for settlementID.
func (h *Hub) Online(settlementID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients[settlementID]))
	for c := range h.clients[settlementID] {
		out = append(out, c.member)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.settlement]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.settlement] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.settlement]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.settlement)
	}
	c.close()
}

// Handler upgrades requests of the form ?settlement=ID&member=NAME and streams
// notices to them until the peer disconnects.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		settlementID, member := q.Get("settlement"), q.Get("member")
		if settlementID == "" || member == "" {
			http.Error(rw, "settlement and member are required", http.StatusBadRequest)
			return
		}
		if h.directory != nil {
			s, ok := h.directory.Get(settlementID)
			if !ok || !s.HasMember(member) {
				http.Error(rw, "not a member of this settlement", http.StatusForbidden)
				return
			}
		}
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		c := &client{
			member:     member,
			settlement: settlementID,
			conn:       conn,
			send:       make(chan []byte, h.cfg.SendBuffer),
			limiter:    h.limiter(),
		}
		if !h.register(c) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			conn.Close()
			return
		}
		h.logger.Info("member connected", zap.String("member", member), zap.String("settlement", settlementID))
		go h.writePump(c)
		h.readPump(c)
		h.unregister(c)
		h.logger.Info("member disconnected", zap.String("member", member), zap.String("settlement", settlementID))
	})
}

// readPump discards client frames; it exists to process control frames and detect disconnects.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", zap.String("member", c.member), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write error", zap.String("member", c.member), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every member and rejects new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, set := range h.clients {
		for c := range set {
			c.close()
		}
		delete(h.clients, id)
	}
}

// Start serves the hub on cfg.Addr() at cfg.Path. It implements server.Service.
func (h *Hub) Start() error {
	mux := http.NewServeMux()
	mux.Handle(h.cfg.Path, h.Handler())
	h.mu.Lock()
	h.srv = &http.Server{Addr: h.cfg.Addr(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := h.srv
	h.mu.Unlock()
	h.logger.Info("notification hub listening", zap.String("addr", srv.Addr), zap.String("path", h.cfg.Path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes member connections and shuts the listener down.
func (h *Hub) Stop() {
	h.Close()
	h.mu.RLock()
	srv := h.srv
	h.mu.RUnlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		h.logger.Warn("notification hub shutdown", zap.Error(err))
	}
}
