package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/connect4/client/internal/game"
	"github.com/connect4/client/internal/session"
)

var marks = map[game.PlayerID]string{
	game.PlayerOne: "X",
	game.PlayerTwo: "O",
}

// render writes the board and a status line. Columns are numbered from 1.
func render(w io.Writer, st session.State) {
	var b strings.Builder
	b.WriteString("\n")
	if st.Board != nil {
		for row := 0; row < st.Board.Rows(); row++ {
			b.WriteString("|")
			for col := 0; col < st.Board.Cols(); col++ {
				mark := "."
				if p := st.Board.At(row, col); p.Valid() {
					mark = marks[p]
				}
				b.WriteString(" " + mark)
			}
			b.WriteString(" |\n")
		}
		b.WriteString(" ")
		for col := 1; col <= st.Board.Cols(); col++ {
			fmt.Fprintf(&b, " %d", col)
		}
		b.WriteString("\n")
	}
	b.WriteString(statusLine(st) + "\n")
	io.WriteString(w, b.String())
}

func statusLine(st session.State) string {
	opponent := "waiting for opponent"
	if st.OpponentName != nil {
		opponent = "vs " + *st.OpponentName
	}
	you := ""
	if st.LocalPlayer != nil {
		you = fmt.Sprintf(" you are %s (%s),", marks[*st.LocalPlayer], st.LocalPlayer.Color())
	}

	var line string
	switch st.Status {
	case session.StatusWaiting:
		line = fmt.Sprintf("[%s] %s", st.GameID, opponent)
	case session.StatusPlaying:
		turn := "opponent's turn"
		if st.IsMyTurn {
			turn = "your turn, pick a column"
		}
		line = fmt.Sprintf("[%s]%s %s, move %d: %s", st.GameID, you, opponent, st.MoveCount+1, turn)
	case session.StatusFinished:
		result := "draw"
		if st.Outcome.Kind == session.OutcomeWin {
			result = "you lose"
			if st.LocalPlayer != nil && *st.LocalPlayer == st.Outcome.Winner {
				result = "you win"
			}
		}
		line = fmt.Sprintf("[%s] game over: %s (r to play again, q to quit)", st.GameID, result)
	case session.StatusAbandoned:
		line = fmt.Sprintf("[%s] opponent left the game (r to play again, q to quit)", st.GameID)
	}
	if st.Error != "" {
		line += "\n! " + st.Error
	}
	return line
}
