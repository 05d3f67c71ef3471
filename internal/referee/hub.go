// Package referee is a reference remote authority: it pairs clients by game
// id, arbitrates their moves and pushes full gameUpdate snapshots back.
package referee

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/connect4/client/internal/game"
	"github.com/connect4/client/internal/logger"
	"github.com/connect4/client/internal/metrics"
	"github.com/connect4/client/internal/protocol"
	"github.com/google/uuid"
)

// Hub maintains the set of active clients and the matches they play.
type Hub struct {
	log *logger.Logger

	// ReconnectGrace is how long a seat stays reserved after its socket
	// drops mid-match. Zero abandons the match immediately.
	reconnectGrace time.Duration

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.Mutex
	clients map[*Client]bool
	matches map[string]*Match
}

// Options configures a Hub.
type Options struct {
	ReconnectGrace time.Duration
	Logger         *logger.Logger
}

// NewHub creates a new Hub instance
func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = logger.WithComponent("referee")
	}
	return &Hub{
		log:            opts.Logger,
		reconnectGrace: opts.ReconnectGrace,
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		clients:        make(map[*Client]bool),
		matches:        make(map[string]*Match),
	}
}

// Run serves register and unregister requests until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.disconnect(client)

		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		}
	}
}

func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.done)
	for c := range h.clients {
		h.closeClientLocked(c)
	}
	for _, m := range h.matches {
		for _, s := range m.seats {
			if s.grace != nil {
				s.grace.Stop()
			}
		}
	}
	h.matches = make(map[string]*Match)
	h.updateGaugeLocked()
	h.log.Info("hub stopped")
}

func (h *Hub) closeClientLocked(c *Client) {
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendLocked queues a message for c, dropping it when the buffer is full.
// Must hold h.mu.
func (h *Hub) sendLocked(c *Client, msgType string, payload interface{}) {
	if c == nil || c.closed {
		return
	}
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		h.log.Error("encode failed", err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warn("client send buffer full, dropping message", map[string]interface{}{"player": c.name, "type": msgType})
	}
}

func (h *Hub) broadcastLocked(m *Match) {
	update := m.Update()
	for _, s := range m.seats {
		h.sendLocked(s.client, protocol.TypeGameUpdate, update)
	}
}

func (h *Hub) updateGaugeLocked() {
	active := 0
	for _, m := range h.matches {
		if m.status == protocol.StatusPlaying {
			active++
		}
	}
	metrics.RefereeActiveMatches.Set(float64(active))
}

// handleJoin seats a player. The first two distinct names of a game id
// form the match and the first one plays first. Joining again under a
// seated name takes the seat over, which is how reconnecting clients
// resume.
func (h *Hub) handleJoin(c *Client, join protocol.JoinGame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	gameID := join.GameID
	if gameID == "" {
		gameID = c.gameID
	}
	if gameID == "" {
		h.sendLocked(c, protocol.TypeError, protocol.Error{Message: "missing game id"})
		return
	}
	name := strings.TrimSpace(join.PlayerName)
	if name == "" {
		name = "guest-" + uuid.NewString()[:8]
	}

	if c.gameID != "" && c.gameID != gameID {
		h.leaveLocked(c)
	}
	c.name, c.gameID = name, gameID

	m := h.matches[gameID]
	if m == nil || m.terminal() {
		m = newMatch(gameID)
		h.matches[gameID] = m
		h.log.Info("match created", map[string]interface{}{"gameId": gameID, "matchId": m.MatchID})
	}

	if id := m.seatOf(name); id != 0 {
		s := m.seat(id)
		if s.grace != nil {
			s.grace.Stop()
			s.grace = nil
		}
		s.client = c
		h.log.Info("player resumed seat", map[string]interface{}{"gameId": gameID, "player": name, "seat": int(id)})
		h.sendLocked(c, protocol.TypeGameUpdate, m.Update())
		return
	}

	if m.full() {
		h.log.Warn("match is full", map[string]interface{}{"gameId": gameID, "player": name})
		h.sendLocked(c, protocol.TypeError, protocol.Error{Message: "game is full"})
		return
	}

	m.seats = append(m.seats, &seat{name: name, client: c})
	if m.full() {
		m.status = protocol.StatusPlaying
		h.log.Info("match started", map[string]interface{}{"gameId": gameID, "player1": m.seats[0].name, "player2": m.seats[1].name})
	}
	h.updateGaugeLocked()
	h.broadcastLocked(m)
}

// handleMove applies a move from c when it is that player's turn.
func (h *Hub) handleMove(c *Client, column int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.matches[c.gameID]
	if m == nil || m.status != protocol.StatusPlaying {
		h.rejectLocked(c, "game is not in progress")
		return
	}
	player := m.seatOfClient(c)
	if player == 0 {
		h.rejectLocked(c, "not seated in this game")
		return
	}
	if player != m.current {
		h.rejectLocked(c, "not your turn")
		return
	}
	if err := m.apply(player, column); err != nil {
		h.rejectLocked(c, err.Error())
		return
	}
	metrics.RefereeMoves.WithLabelValues("accepted").Inc()

	if m.status == protocol.StatusFinished {
		h.log.Info("match finished", map[string]interface{}{"gameId": m.ID, "winner": int(m.winner), "moves": len(m.history)})
		h.updateGaugeLocked()
	}
	h.broadcastLocked(m)
}

func (h *Hub) rejectLocked(c *Client, reason string) {
	metrics.RefereeMoves.WithLabelValues("rejected").Inc()
	h.log.Debug("move rejected", map[string]interface{}{"player": c.name, "reason": reason})
	h.sendLocked(c, protocol.TypeError, protocol.Error{Message: reason})
}

// disconnect handles a socket going away.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	h.closeClientLocked(c)
	h.leaveLocked(c)
}

// leaveLocked releases c's seat. A player leaving a match in progress
// abandons it, after the reconnect grace if one is configured.
func (h *Hub) leaveLocked(c *Client) {
	m := h.matches[c.gameID]
	if m == nil {
		return
	}
	id := m.seatOfClient(c)
	if id == 0 {
		return
	}
	s := m.seat(id)
	s.client = nil

	switch m.status {
	case protocol.StatusWaiting:
		delete(h.matches, m.ID)
		h.log.Info("waiting player left", map[string]interface{}{"gameId": m.ID, "player": s.name})

	case protocol.StatusPlaying:
		if h.reconnectGrace <= 0 {
			h.abandonLocked(m, id)
			return
		}
		h.log.Info("player disconnected, holding seat", map[string]interface{}{"gameId": m.ID, "player": s.name, "grace": h.reconnectGrace.String()})
		s.grace = time.AfterFunc(h.reconnectGrace, func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.matches[m.ID] == m && s.client == nil && m.status == protocol.StatusPlaying {
				h.abandonLocked(m, id)
			}
		})

	default:
		if m.connected() == 0 {
			delete(h.matches, m.ID)
		}
	}
}

// abandonLocked ends m because player left and tells the other side.
func (h *Hub) abandonLocked(m *Match, player game.PlayerID) {
	m.status = protocol.StatusAbandoned
	h.log.Info("match abandoned", map[string]interface{}{"gameId": m.ID, "leaver": int(player)})
	if other := m.seat(player.Other()); other != nil {
		h.sendLocked(other.client, protocol.TypeOpponentDisconnected, struct{}{})
	}
	delete(h.matches, m.ID)
	h.updateGaugeLocked()
}
