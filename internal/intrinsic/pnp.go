package intrinsic

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/handeye/internal/geometry"
)

// BoardPose is the pose of a chessboard in the camera frame with its
// reprojection error in pixels.
type BoardPose struct {
	BoardInCamera geometry.Transform
	RMS           float64
}

// EstimateBoardPose solves the planar perspective-n-point problem for one
// view: the homography between the board plane and undistorted normalized
// coordinates seeds the pose, which is then refined against the distorted
// pixel observations.
func EstimateBoardPose(m Model, board Board, corners []r2.Point) (BoardPose, error) {
	if err := m.Validate(); err != nil {
		return BoardPose{}, err
	}
	if err := board.Validate(); err != nil {
		return BoardPose{}, err
	}
	if len(corners) != board.Corners() {
		return BoardPose{}, fmt.Errorf("%w: got %d corners, want %d", ErrCornersNotFound, len(corners), board.Corners())
	}

	normalized := make([]r2.Point, len(corners))
	for i, c := range corners {
		normalized[i] = m.Normalize(c)
	}
	h, err := findHomography(board.planePoints(), normalized)
	if err != nil {
		return BoardPose{}, err
	}
	init, err := poseFromHomography(mat.NewDiagDense(3, []float64{1, 1, 1}), h)
	if err != nil {
		return BoardPose{}, err
	}

	obj := board.ObjectPoints()
	residuals := func(dst, x []float64) {
		pose := poseFromParams(x)
		for i, p := range obj {
			px := m.Project(pose.Apply(p))
			dst[2*i] = px.X - corners[i].X
			dst[2*i+1] = px.Y - corners[i].Y
		}
	}
	lm := levenbergMarquardt(residuals, 2*len(obj), appendPose(nil, init), defaultLMSettings())
	pose := poseFromParams(lm.X)
	return BoardPose{
		BoardInCamera: pose,
		RMS:           math.Sqrt(2 * lm.Cost / float64(len(obj))),
	}, nil
}

// ReprojectionRMS returns the RMS pixel error of corners against the board
// projected at pose.
func ReprojectionRMS(m Model, board Board, pose geometry.Transform, corners []r2.Point) float64 {
	obj := board.ObjectPoints()
	var sum float64
	for i, p := range obj {
		d := m.Project(pose.Apply(p)).Sub(corners[i]).Norm()
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(obj)))
}
