package referee

import (
	"time"

	"github.com/connect4/client/internal/game"
	"github.com/connect4/client/internal/protocol"
	"github.com/google/uuid"
)

// seat is one side of a match. client is nil while the player is away.
type seat struct {
	name   string
	client *Client
	grace  *time.Timer
}

// Match is the authoritative state of one game id.
type Match struct {
	ID      string // game id chosen by the clients
	MatchID string // unique per match instance, for logs

	board   *game.Board
	seats   []*seat
	current game.PlayerID
	status  string
	winner  game.PlayerID
	history []protocol.Move
}

func newMatch(gameID string) *Match {
	return &Match{
		ID:      gameID,
		MatchID: uuid.NewString(),
		board:   game.NewDefaultBoard(),
		current: game.PlayerOne,
		status:  protocol.StatusWaiting,
	}
}

func (m *Match) full() bool {
	return len(m.seats) == 2
}

func (m *Match) terminal() bool {
	return m.status == protocol.StatusFinished || m.status == protocol.StatusAbandoned
}

// seatOf returns the player id seated under name, 0 if none.
func (m *Match) seatOf(name string) game.PlayerID {
	for i, s := range m.seats {
		if s.name == name {
			return game.PlayerID(i + 1)
		}
	}
	return 0
}

func (m *Match) seatOfClient(c *Client) game.PlayerID {
	for i, s := range m.seats {
		if s.client == c {
			return game.PlayerID(i + 1)
		}
	}
	return 0
}

func (m *Match) seat(id game.PlayerID) *seat {
	if !id.Valid() || int(id) > len(m.seats) {
		return nil
	}
	return m.seats[id-1]
}

func (m *Match) connected() int {
	n := 0
	for _, s := range m.seats {
		if s.client != nil {
			n++
		}
	}
	return n
}

// apply drops a piece for player and moves the match forward.
func (m *Match) apply(player game.PlayerID, col int) error {
	next, row, won, err := m.board.Drop(col, player)
	if err != nil {
		return err
	}
	m.board = next
	m.history = append(m.history, protocol.Move{Player: int(player), Row: row, Column: col})
	switch {
	case won:
		m.status = protocol.StatusFinished
		m.winner = player
	case next.IsFull():
		m.status = protocol.StatusFinished
	default:
		m.current = player.Other()
	}
	return nil
}

// Update is the full snapshot broadcast after every change.
func (m *Match) Update() protocol.GameUpdate {
	players := make([]protocol.Player, len(m.seats))
	for i, s := range m.seats {
		players[i] = protocol.Player{Name: s.name}
	}
	history := append([]protocol.Move{}, m.history...)
	return protocol.GameUpdate{
		Board:         m.board.Grid(),
		CurrentPlayer: protocol.IntPtr(int(m.current)),
		GameStatus:    protocol.StringPtr(m.status),
		Winner:        protocol.IntPtr(int(m.winner)),
		Players:       &players,
		MoveHistory:   &history,
	}
}
