package motion

import (
	"context"
	"sync"
)

// Move is one relative move.
type Move struct {
	Axis     Axis
	Distance float64
}

// Recorder is a Stage that only remembers what it was told. It backs the
// simulator motion backend and tests.
type Recorder struct {
	// Err, when set, is returned by every move.
	Err error

	mu    sync.Mutex
	moves []Move
}

func (r *Recorder) MoveRelative(ctx context.Context, axis Axis, distance float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, Move{Axis: axis, Distance: distance})
	return nil
}

// Moves returns a copy of the recorded moves.
func (r *Recorder) Moves() []Move {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Move(nil), r.moves...)
}

// Net returns the summed displacement per axis.
func (r *Recorder) Net() (x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.moves {
		switch m.Axis {
		case AxisX:
			x += m.Distance
		case AxisY:
			y += m.Distance
		}
	}
	return x, y
}
