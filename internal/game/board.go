package game

import (
	"errors"
	"fmt"
)

const (
	DefaultRows = 6
	DefaultCols = 7
	WinLength   = 4
)

var (
	ErrInvalidDimensions = errors.New("board dimensions must be positive")
	ErrOutOfBounds       = errors.New("cell is out of bounds")
	ErrCellOccupied      = errors.New("cell is already occupied")
	ErrFloating          = errors.New("cell below is empty")
	ErrInvalidPlayer     = errors.New("invalid player")
	ErrColumnFull        = errors.New("column is full")
)

// PlayerID identifies one of the two seats of a match.
type PlayerID int

const (
	PlayerOne PlayerID = 1
	PlayerTwo PlayerID = 2
)

// Valid reports whether p is one of the two seats.
func (p PlayerID) Valid() bool {
	return p == PlayerOne || p == PlayerTwo
}

// Other returns the opposing seat.
func (p PlayerID) Other() PlayerID {
	return 3 - p
}

// Color is the stable colour shown for the seat.
func (p PlayerID) Color() string {
	switch p {
	case PlayerOne:
		return "red"
	case PlayerTwo:
		return "yellow"
	default:
		return ""
	}
}

func (p PlayerID) String() string {
	if !p.Valid() {
		return fmt.Sprintf("PlayerID(%d)", int(p))
	}
	return fmt.Sprintf("player%d", int(p))
}

// Cell holds 0 when empty, otherwise the occupying PlayerID.
type Cell = PlayerID

// Empty is the zero Cell.
const Empty Cell = 0

// Board is a rows x cols grid. Row 0 is the top row; pieces fall towards
// row Rows()-1. Boards are treated as values: Place returns a copy.
type Board struct {
	rows  int
	cols  int
	cells []Cell
}

// NewBoard returns an empty board.
func NewBoard(rows, cols int) (*Board, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, rows, cols)
	}
	return &Board{rows: rows, cols: cols, cells: make([]Cell, rows*cols)}, nil
}

// NewDefaultBoard returns an empty 6x7 board.
func NewDefaultBoard() *Board {
	b, _ := NewBoard(DefaultRows, DefaultCols)
	return b
}

func (b *Board) Rows() int { return b.rows }
func (b *Board) Cols() int { return b.cols }

func (b *Board) inBounds(row, col int) bool {
	return row >= 0 && row < b.rows && col >= 0 && col < b.cols
}

// At returns the cell at (row, col), Empty when out of bounds.
func (b *Board) At(row, col int) Cell {
	if !b.inBounds(row, col) {
		return Empty
	}
	return b.cells[row*b.cols+col]
}

// Clone returns a deep copy.
func (b *Board) Clone() *Board {
	c := &Board{rows: b.rows, cols: b.cols, cells: make([]Cell, len(b.cells))}
	copy(c.cells, b.cells)
	return c
}

// AvailableRow scans col from the bottom row upward and returns the first
// empty row. ok is false when the column is full or out of bounds.
func (b *Board) AvailableRow(col int) (row int, ok bool) {
	if col < 0 || col >= b.cols {
		return 0, false
	}
	for r := b.rows - 1; r >= 0; r-- {
		if b.At(r, col) == Empty {
			return r, true
		}
	}
	return 0, false
}

// Place returns a new board with (row, col) set to player. The caller is
// expected to pass row == AvailableRow(col); anything else is an error.
func (b *Board) Place(row, col int, player PlayerID) (*Board, error) {
	if !player.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPlayer, int(player))
	}
	if !b.inBounds(row, col) {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, row, col)
	}
	if b.At(row, col) != Empty {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrCellOccupied, row, col)
	}
	if row < b.rows-1 && b.At(row+1, col) == Empty {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrFloating, row, col)
	}
	next := b.Clone()
	next.cells[row*b.cols+col] = player
	return next, nil
}

var axes = [4][2]int{
	{0, 1},  // horizontal
	{1, 0},  // vertical
	{1, 1},  // diagonal \
	{1, -1}, // diagonal /
}

// CheckWin reports whether the piece just placed at (row, col) completes a
// run of WinLength or more for player. Only lines through the placed cell
// are examined.
func (b *Board) CheckWin(row, col int, player PlayerID) bool {
	if !player.Valid() || b.At(row, col) != player {
		return false
	}
	for _, d := range axes {
		count := 1
		count += b.run(row, col, d[0], d[1], player)
		count += b.run(row, col, -d[0], -d[1], player)
		if count >= WinLength {
			return true
		}
	}
	return false
}

func (b *Board) run(row, col, dr, dc int, player PlayerID) int {
	n := 0
	for r, c := row+dr, col+dc; b.inBounds(r, c) && b.At(r, c) == player; r, c = r+dr, c+dc {
		n++
	}
	return n
}

// IsFull reports whether every cell of the top row is occupied.
func (b *Board) IsFull() bool {
	for c := 0; c < b.cols; c++ {
		if b.At(0, c) == Empty {
			return false
		}
	}
	return true
}

// Drop applies a move in col for player: it finds the available row,
// places the piece and evaluates CheckWin once at the placed coordinates.
func (b *Board) Drop(col int, player PlayerID) (next *Board, row int, won bool, err error) {
	row, ok := b.AvailableRow(col)
	if !ok {
		if col < 0 || col >= b.cols {
			return nil, 0, false, fmt.Errorf("%w: column %d", ErrOutOfBounds, col)
		}
		return nil, 0, false, fmt.Errorf("%w: column %d", ErrColumnFull, col)
	}
	next, err = b.Place(row, col, player)
	if err != nil {
		return nil, 0, false, err
	}
	return next, row, next.CheckWin(row, col, player), nil
}

// Count returns the number of occupied cells.
func (b *Board) Count() int {
	n := 0
	for _, c := range b.cells {
		if c != Empty {
			n++
		}
	}
	return n
}

// Grid converts the board into the wire representation (0 = empty).
func (b *Board) Grid() [][]int {
	grid := make([][]int, b.rows)
	for r := range grid {
		grid[r] = make([]int, b.cols)
		for c := range grid[r] {
			grid[r][c] = int(b.At(r, c))
		}
	}
	return grid
}

// FromGrid builds a board from the wire representation. Rows must be
// rectangular and every value 0, 1 or 2.
func FromGrid(grid [][]int) (*Board, error) {
	if len(grid) == 0 || len(grid[0]) == 0 {
		return nil, ErrInvalidDimensions
	}
	b, err := NewBoard(len(grid), len(grid[0]))
	if err != nil {
		return nil, err
	}
	for r, line := range grid {
		if len(line) != b.cols {
			return nil, fmt.Errorf("%w: row %d has %d columns", ErrInvalidDimensions, r, len(line))
		}
		for c, v := range line {
			p := PlayerID(v)
			if p != Empty && !p.Valid() {
				return nil, fmt.Errorf("%w: %d at (%d,%d)", ErrInvalidPlayer, v, r, c)
			}
			b.cells[r*b.cols+c] = p
		}
	}
	return b, nil
}

// ValidColumn reports whether col addresses a column of a board with cols
// columns.
func ValidColumn(col, cols int) bool {
	return col >= 0 && col < cols
}
