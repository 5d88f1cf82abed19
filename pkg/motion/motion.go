// Package motion moves the chip under the injector tip.
package motion

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// Axis is a stage axis.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	}
	return fmt.Sprintf("Axis(%d)", a)
}

// DefaultFeedRate is the feed used for every move, in mm/min.
const DefaultFeedRate = 7800

// stepsPerMM is the inverse of the smallest distance written to G-code.
const stepsPerMM = 10000

// Stage accepts relative moves. A nil error means the move was submitted;
// it does not mean the move has finished.
type Stage interface {
	MoveRelative(ctx context.Context, axis Axis, distance float64) error
}

// FormatMove renders a relative move as G-code. Relative mode is switched
// back to absolute afterwards so manual jogging keeps working.
func FormatMove(axis Axis, distance float64, feedRate int) string {
	if feedRate <= 0 {
		feedRate = DefaultFeedRate
	}
	return fmt.Sprintf("G91\nG1 %s%s F%d\nG90", axis, formatDistance(distance), feedRate)
}

// formatDistance rounds d to 0.1 µm so step sums like 3*0.1 do not leak
// float noise into the G-code.
func formatDistance(d float64) string {
	r := math.Round(d*stepsPerMM) / stepsPerMM
	if r == 0 {
		r = 0 // no "-0"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
