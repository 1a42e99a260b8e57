/*
Package session owns the live websocket connections of the canvas.

The Hub tracks every connected Client and the User each one acts for. A user
may hold several connections (tabs); they share one *user.User so placement
state follows the account, not the socket. The Hub is the placement engine's
view of who is online.
*/
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pxplace/internal/app/placement"
	"pxplace/internal/app/user"
	"pxplace/internal/pkg/logx"
	"pxplace/internal/pkg/metrics"
)

// HubConfig sizes the hub and the users it creates.
type HubConfig struct {
	// IdleTimeout is how long after their last activity a user stops counting as active.
	IdleTimeout time.Duration

	UndoRate  rate.Limit
	UndoBurst int
}

// Hub tracks connected clients and the users behind them.
type Hub struct {
	cfg HubConfig

	mu sync.RWMutex

	// users survive disconnects so cooldowns and charges persist across reconnects.
	users   map[string]*user.User
	clients map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client

	now    func() time.Time
	logger zerolog.Logger
}

var _ placement.Sessions = (*Hub)(nil)

// NewHub returns an empty hub. Run must be started before clients register.
func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg:        cfg,
		users:      make(map[string]*user.User),
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		now:        time.Now,
		logger:     logx.Component("hub"),
	}
}

// Attach returns the user for p, creating it on first sight and refreshing its profile otherwise.
func (h *Hub) Attach(p user.Profile) *user.User {
	h.mu.Lock()
	defer h.mu.Unlock()

	if u, ok := h.users[p.ID]; ok {
		u.UpdateProfile(p)
		return u
	}

	u := user.New(p, h.cfg.UndoRate, h.cfg.UndoBurst)
	h.users[p.ID] = u
	return u
}

// Register queues c for registration.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Run processes registrations until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("Hub started.")

	for {
		select {
		case c := <-h.register:
			h.add(c)
			c.handler.Connect(c, c.user)

		case c := <-h.unregister:
			h.remove(c)

		case <-ctx.Done():
			h.closeAll()
			h.logger.Info().Msg("Hub stopped.")
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.user.ID]
	if !ok {
		conns = make(map[string]*Client)
		h.clients[c.user.ID] = conns
	}
	conns[c.id] = c

	metrics.Connections.Inc()
	h.logger.Info().
		Str("user_id", c.user.ID).
		Str("conn_id", c.id).
		Int("user_connections", len(conns)).
		Msg("Client registered.")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.user.ID]
	if !ok {
		return
	}
	if _, ok := conns[c.id]; !ok {
		h.logger.Warn().Str("conn_id", c.id).Msg("Unregister for unknown connection.")
		return
	}

	delete(conns, c.id)
	if len(conns) == 0 {
		delete(h.clients, c.user.ID)
	}
	c.close()

	metrics.Connections.Dec()
	h.logger.Info().Str("user_id", c.user.ID).Str("conn_id", c.id).Msg("Client unregistered.")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conns := range h.clients {
		for _, c := range conns {
			c.close()
		}
	}
	h.clients = make(map[string]map[string]*Client)
	metrics.Connections.Set(0)
}

// ConnectionsOf returns every live connection of userID.
func (h *Hub) ConnectionsOf(userID string) []placement.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.clients[userID]
	out := make([]placement.Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Connections returns every live connection.
func (h *Hub) Connections() []placement.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []placement.Conn
	for _, conns := range h.clients {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// LiveConnectionCount returns the number of live connections.
func (h *Hub) LiveConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// NonIdleUserCount counts connected users active within the idle timeout.
func (h *Hub) NonIdleUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	n := 0
	for id := range h.clients {
		if u, ok := h.users[id]; ok && !u.IsIdle(now, h.cfg.IdleTimeout) {
			n++
		}
	}
	return n
}

// UserByName returns the connected user called name, or nil.
func (h *Hub) UserByName(name string) *user.User {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id := range h.clients {
		if u := h.users[id]; u != nil && u.Name == name {
			return u
		}
	}
	return nil
}
