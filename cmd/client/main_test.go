package main

import (
	"strings"
	"testing"

	"github.com/connect4/client/internal/game"
	"github.com/connect4/client/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in  string
		cmd command
		col int
	}{
		{"4", cmdMove, 3},
		{" 1 ", cmdMove, 0},
		{"0", cmdNone, 0},
		{"abc", cmdNone, 0},
		{"", cmdNone, 0},
		{"R", cmdReset, 0},
		{"quit", cmdQuit, 0},
	}
	for _, tt := range tests {
		cmd, col := parseCommand(tt.in)
		assert.Equal(t, tt.cmd, cmd, tt.in)
		assert.Equal(t, tt.col, col, tt.in)
	}
}

func TestRender(t *testing.T) {
	board, _, _, err := game.NewDefaultBoard().Drop(3, game.PlayerOne)
	require.NoError(t, err)
	board, _, _, err = board.Drop(3, game.PlayerTwo)
	require.NoError(t, err)

	me := game.PlayerTwo
	opponent := "ana"
	st := session.State{
		GameID:        "game_1",
		Board:         board,
		CurrentPlayer: game.PlayerTwo,
		Status:        session.StatusPlaying,
		LocalPlayer:   &me,
		OpponentName:  &opponent,
		MoveCount:     2,
		IsMyTurn:      false,
	}

	var out strings.Builder
	render(&out, st)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "| . . . O . . . |", lines[4])
	assert.Equal(t, "| . . . X . . . |", lines[5])
	assert.Equal(t, "1 2 3 4 5 6 7", strings.TrimSpace(lines[6]))
	assert.Contains(t, lines[7], "you are O (yellow)")
	assert.Contains(t, lines[7], "vs ana")
	assert.Contains(t, lines[7], "opponent's turn")
}

func TestStatusLine_Finished(t *testing.T) {
	me := game.PlayerOne
	st := session.State{
		GameID:      "game_1",
		Status:      session.StatusFinished,
		Outcome:     session.Outcome{Kind: session.OutcomeWin, Winner: game.PlayerOne},
		LocalPlayer: &me,
	}
	assert.Contains(t, statusLine(st), "you win")

	st.Outcome = session.Outcome{Kind: session.OutcomeDraw}
	assert.Contains(t, statusLine(st), "draw")

	st.Status = session.StatusAbandoned
	st.Error = "connection failed: boom"
	assert.Contains(t, statusLine(st), "opponent left")
	assert.Contains(t, statusLine(st), "! connection failed: boom")
}
