// Package protocol defines the JSON envelope and payloads exchanged between
// a game client and the remote authority.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound (client → authority) message types.
const (
	TypeJoinGame = "joinGame"
	TypeMakeMove = "makeMove"
)

// Inbound (authority → client) message types.
const (
	TypeGameUpdate           = "gameUpdate"
	TypeOpponentDisconnected = "opponentDisconnected"
	TypeError                = "error"
)

// Game status values carried in gameUpdate.gameStatus.
const (
	StatusWaiting   = "waiting"
	StatusPlaying   = "playing"
	StatusFinished  = "finished"
	StatusAbandoned = "abandoned"
)

// Game types reported with finished matches.
const (
	GameTypeSinglePlayer = "singlePlayer"
	GameTypeMultiplayer  = "multiplayer"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message is the envelope of every frame. Payload is kept raw so the
// receiver decodes it according to Type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload in an envelope.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		raw = b
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// Decode parses a frame into its envelope. A frame without a type is
// malformed.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// JoinGame asks the authority to seat playerName in gameId.
type JoinGame struct {
	GameID     string `json:"gameId"`
	PlayerName string `json:"playerName"`
}

// MakeMove drops a piece in Column.
type MakeMove struct {
	Column int `json:"column"`
}

// Player is one entry of the roster. Seat order is roster order: index 0 is
// player one.
type Player struct {
	Name string `json:"name"`
}

// Error tells a client why the authority refused its request.
type Error struct {
	Message string `json:"message"`
}

// Move is one entry of the move history.
type Move struct {
	Player int `json:"player"`
	Row    int `json:"row"`
	Column int `json:"column"`
}

// GameUpdate is a partial snapshot. A nil field means "unchanged"; an
// explicit JSON null is treated the same way.
type GameUpdate struct {
	Board         [][]int   `json:"board,omitempty"`
	CurrentPlayer *int      `json:"currentPlayer,omitempty"`
	GameStatus    *string   `json:"gameStatus,omitempty"`
	Winner        *int      `json:"winner,omitempty"`
	Players       *[]Player `json:"players,omitempty"`
	MoveHistory   *[]Move   `json:"moveHistory,omitempty"`
}

// DecodeGameUpdate parses a gameUpdate payload.
func DecodeGameUpdate(raw json.RawMessage) (GameUpdate, error) {
	var u GameUpdate
	if len(raw) == 0 {
		return u, nil
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return GameUpdate{}, fmt.Errorf("%w: gameUpdate: %v", ErrMalformedMessage, err)
	}
	return u, nil
}

// IntPtr and StringPtr build optional GameUpdate fields.
func IntPtr(v int) *int { return &v }

func StringPtr(v string) *string { return &v }
