// Package grid lays out the serpentine path the scan takes over the chip.
package grid

import (
	"fmt"
	"strconv"
)

// Direction is the x direction of a row.
type Direction uint8

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Sign is +1 for forward rows and -1 for reverse rows.
func (d Direction) Sign() int {
	if d == Reverse {
		return -1
	}
	return 1
}

// Prefix is the sign written in front of x labels.
func (d Direction) Prefix() string {
	if d == Reverse {
		return "-"
	}
	return ""
}

// Position is one stop of the walk.
type Position struct {
	X         int // index within the row, in travel order
	Y         int
	Column    int // physical column counted from the left edge
	Direction Direction
	RowStart  bool // first stop of its row
}

// Label is the x label used in results: the row's sign and the index.
func (p Position) Label() string {
	return p.Direction.Prefix() + strconv.Itoa(p.X)
}

// StepX is the x move, in steps, that reaches p from the previous stop. The
// first stop of a row needs none: the start coordinate or the y move
// between rows already put the tip there.
func (p Position) StepX() int {
	if p.RowStart {
		return 0
	}
	return p.Direction.Sign()
}

func (p Position) String() string {
	return fmt.Sprintf("(%s,%d)", p.Label(), p.Y)
}

// Walk returns every stop of an xSize by ySize grid in serpentine order.
// Even rows run left to right and odd rows right to left. xOffset skips
// columns of the first row only.
func Walk(xSize, ySize, xOffset int) ([]Position, error) {
	if xSize < 1 || ySize < 1 {
		return nil, fmt.Errorf("grid: size %dx%d must be at least 1x1", xSize, ySize)
	}
	if xOffset < 0 || xOffset >= xSize {
		return nil, fmt.Errorf("grid: x offset %d outside [0, %d)", xOffset, xSize)
	}

	path := make([]Position, 0, xSize*ySize-xOffset)
	for y := 0; y < ySize; y++ {
		dir := Forward
		if y%2 == 1 {
			dir = Reverse
		}
		start := 0
		if y == 0 {
			start = xOffset
		}
		for x := start; x < xSize; x++ {
			col := x
			if dir == Reverse {
				col = xSize - 1 - x
			}
			path = append(path, Position{
				X:         x,
				Y:         y,
				Column:    col,
				Direction: dir,
				RowStart:  x == start,
			})
		}
	}
	return path, nil
}

// Homing returns the x and y moves, in steps, that take the tip from the
// end of path back to where it started.
func Homing(path []Position) (dx, dy int) {
	if len(path) == 0 {
		return 0, 0
	}
	first, last := path[0], path[len(path)-1]
	return first.Column - last.Column, first.Y - last.Y
}
