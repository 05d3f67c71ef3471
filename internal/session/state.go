package session

import (
	"time"

	"github.com/connect4/client/internal/game"
	"github.com/connect4/client/internal/protocol"
	"github.com/connect4/client/internal/ws"
)

// Status is the phase of a match. Finished and Abandoned are terminal.
type Status string

const (
	StatusWaiting   Status = protocol.StatusWaiting
	StatusPlaying   Status = protocol.StatusPlaying
	StatusFinished  Status = protocol.StatusFinished
	StatusAbandoned Status = protocol.StatusAbandoned
)

// Terminal reports whether no further board or turn changes are accepted.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAbandoned
}

func parseStatus(v string) (Status, bool) {
	switch s := Status(v); s {
	case StatusWaiting, StatusPlaying, StatusFinished, StatusAbandoned:
		return s, true
	}
	return "", false
}

// OutcomeKind tells how a finished match ended.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeWin
	OutcomeDraw
)

// Outcome is only meaningful once the status is StatusFinished.
type Outcome struct {
	Kind   OutcomeKind
	Winner game.PlayerID
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeWin:
		return "win(" + o.Winner.String() + ")"
	case OutcomeDraw:
		return "draw"
	default:
		return "none"
	}
}

// State is the local view of a match. Every update replaces it wholesale;
// Snapshot and subscribers get copies that share nothing with the session.
type State struct {
	GameID        string
	Board         *game.Board
	CurrentPlayer game.PlayerID
	Status        Status
	Winner        game.PlayerID
	Outcome       Outcome
	LocalPlayer   *game.PlayerID
	OpponentName  *string
	MoveCount     int
	StartedAt     *time.Time
	IsMyTurn      bool
	Players       []protocol.Player
	MoveHistory   []protocol.Move
	Error         string
	Connection    ws.ConnectionState
}

func initialState(gameID string) State {
	return State{
		GameID:        gameID,
		Board:         game.NewDefaultBoard(),
		CurrentPlayer: game.PlayerOne,
		Status:        StatusWaiting,
	}
}

func (s State) clone() State {
	out := s
	if s.Board != nil {
		out.Board = s.Board.Clone()
	}
	if s.LocalPlayer != nil {
		p := *s.LocalPlayer
		out.LocalPlayer = &p
	}
	if s.OpponentName != nil {
		n := *s.OpponentName
		out.OpponentName = &n
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.Players != nil {
		out.Players = append([]protocol.Player(nil), s.Players...)
	}
	if s.MoveHistory != nil {
		out.MoveHistory = append([]protocol.Move(nil), s.MoveHistory...)
	}
	return out
}

// seats resolves the local seat and the opponent's name from the roster.
// The local seat is the roster index of name plus one.
func seats(players []protocol.Player, name string) (*game.PlayerID, *string) {
	var local *game.PlayerID
	var opponent *string
	for i, p := range players {
		if local == nil && p.Name == name {
			id := game.PlayerID(i + 1)
			if id.Valid() {
				local = &id
			}
			continue
		}
		if opponent == nil && i < 2 {
			n := p.Name
			opponent = &n
		}
	}
	return local, opponent
}
