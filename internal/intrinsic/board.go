package intrinsic

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Board describes a chessboard target by its inner-corner grid.
type Board struct {
	Cols       int     `json:"cols"`        // inner corners per row
	Rows       int     `json:"rows"`        // inner corners per column
	SquareSize float64 `json:"square_size"` // metres
}

// Validate checks the board geometry.
func (b Board) Validate() error {
	if b.Cols < 2 || b.Rows < 2 {
		return fmt.Errorf("board needs at least 2x2 inner corners, got %dx%d", b.Cols, b.Rows)
	}
	if b.SquareSize <= 0 {
		return fmt.Errorf("square size must be positive, got %g", b.SquareSize)
	}
	return nil
}

// Corners returns the number of inner corners.
func (b Board) Corners() int {
	return b.Cols * b.Rows
}

// ObjectPoints returns the corner positions on the board plane (z = 0),
// row-major, matching the order a corner detector reports them.
func (b Board) ObjectPoints() []r3.Vector {
	pts := make([]r3.Vector, 0, b.Corners())
	for row := 0; row < b.Rows; row++ {
		for col := 0; col < b.Cols; col++ {
			pts = append(pts, r3.Vector{X: float64(col) * b.SquareSize, Y: float64(row) * b.SquareSize})
		}
	}
	return pts
}

func (b Board) planePoints() []r2.Point {
	obj := b.ObjectPoints()
	out := make([]r2.Point, len(obj))
	for i, p := range obj {
		out[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return out
}
