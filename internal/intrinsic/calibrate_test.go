package intrinsic

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var (
	testBoard = Board{Cols: 9, Rows: 6, SquareSize: 0.025}
	testModel = Model{
		FX: 800, FY: 810, CX: 320, CY: 240,
		Distortion: Distortion{K1: -0.12, K2: 0.05, P1: 0.001, P2: -0.0007},
		Width:      640, Height: 480,
	}
)

// boardPoses places the board 0.4-0.6m in front of the camera with varied tilts.
func boardPoses() []geometry.Transform {
	tilts := []r3.Vector{
		{X: 0.25, Y: 0.1},
		{X: -0.3, Y: 0.15, Z: 0.1},
		{X: 0.1, Y: -0.35},
		{X: -0.15, Y: -0.2, Z: -0.2},
		{X: 0.35, Y: 0.3, Z: 0.05},
		{X: -0.05, Y: 0.4, Z: 0.3},
	}
	poses := make([]geometry.Transform, len(tilts))
	for i, w := range tilts {
		poses[i] = geometry.Transform{
			Rotation:    geometry.RotationFromRotVec(w),
			Translation: r3.Vector{X: -0.1 + 0.01*float64(i), Y: -0.06, Z: 0.4 + 0.04*float64(i)},
		}
	}
	return poses
}

func syntheticViews(m Model, poses []geometry.Transform) []View {
	obj := testBoard.ObjectPoints()
	views := make([]View, len(poses))
	for i, pose := range poses {
		corners := make([]r2.Point, len(obj))
		for j, p := range obj {
			corners[j] = m.Project(pose.Apply(p))
		}
		views[i] = View{Name: string(rune('a' + i)), Corners: corners}
	}
	return views
}

func TestBoard_ObjectPoints(t *testing.T) {
	t.Parallel()
	b := Board{Cols: 3, Rows: 2, SquareSize: 0.5}
	want := []r3.Vector{
		{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 1, Y: 0},
		{X: 0, Y: 0.5}, {X: 0.5, Y: 0.5}, {X: 1, Y: 0.5},
	}
	assert.Equal(t, want, b.ObjectPoints())
	assert.Error(t, Board{Cols: 1, Rows: 5, SquareSize: 1}.Validate())
	assert.Error(t, Board{Cols: 3, Rows: 5}.Validate())
}

func TestModel_UndistortInvertsProject(t *testing.T) {
	t.Parallel()
	ideal := testModel
	ideal.Distortion = Distortion{}
	for _, p := range []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: 0.1, Y: -0.05, Z: 0.5},
		{X: -0.2, Y: 0.15, Z: 0.6},
	} {
		distorted := testModel.Project(p)
		got := testModel.Undistort(distorted)
		want := ideal.Project(p)
		assert.InDelta(t, want.X, got.X, 1e-6)
		assert.InDelta(t, want.Y, got.Y, 1e-6)

		back := testModel.BackProject(distorted, p.Z)
		assert.InDelta(t, 0, back.Sub(p).Norm(), 1e-8)
	}
	assert.True(t, math.IsNaN(testModel.Project(r3.Vector{Z: -1}).X))
}

func TestCalibrate_RecoversSyntheticCamera(t *testing.T) {
	t.Parallel()
	views := syntheticViews(testModel, boardPoses())
	opts := DefaultOptions()
	opts.ImageWidth, opts.ImageHeight = 640, 480

	res, err := Calibrate(testBoard, views, opts)
	require.NoError(t, err)

	m := res.Model
	assert.InDelta(t, testModel.FX, m.FX, 0.5)
	assert.InDelta(t, testModel.FY, m.FY, 0.5)
	assert.InDelta(t, testModel.CX, m.CX, 0.5)
	assert.InDelta(t, testModel.CY, m.CY, 0.5)
	assert.InDelta(t, testModel.Distortion.K1, m.Distortion.K1, 0.01)
	assert.InDelta(t, testModel.Distortion.P1, m.Distortion.P1, 0.001)
	assert.Less(t, res.RMS, 0.01)
	assert.Equal(t, 640, m.Width)
	assert.Len(t, res.PerView, len(views))
	assert.Empty(t, res.Skipped)

	for i, pose := range boardPoses() {
		rot, trans := geometry.Distance(res.Poses[i].BoardInCamera, pose)
		assert.Less(t, rot, 1e-3)
		assert.Less(t, trans, 1e-3)
	}
}

func TestCalibrate_Deterministic(t *testing.T) {
	t.Parallel()
	views := syntheticViews(testModel, boardPoses())
	// Perturb corners so the optimum is not exactly the generating model.
	for i := range views {
		for j := range views[i].Corners {
			views[i].Corners[j].X += 0.3 * math.Sin(float64(7*i+j))
			views[i].Corners[j].Y += 0.3 * math.Cos(float64(5*i+3*j))
		}
	}
	first, err := Calibrate(testBoard, views, DefaultOptions())
	require.NoError(t, err)
	second, err := Calibrate(testBoard, views, DefaultOptions())
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("calibration not deterministic (-first +second):\n%s", diff)
	}
	assert.Greater(t, first.RMS, 0.0)
	assert.Less(t, first.RMS, 0.5)
}

func TestCalibrate_SkipsViewsWithoutCorners(t *testing.T) {
	t.Parallel()
	views := syntheticViews(testModel, boardPoses())
	views = append(views,
		View{Name: "blurry"},
		View{Name: "partial", Corners: views[0].Corners[:10]},
	)
	res, err := Calibrate(testBoard, views, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "blurry", res.Skipped[0].Name)
	assert.ErrorIs(t, res.Skipped[0].Err, ErrCornersNotFound)
	assert.ErrorIs(t, res.Skipped[1].Err, ErrCornersNotFound)
	assert.Len(t, res.PerView, len(views)-2)
}

func TestCalibrate_InsufficientViews(t *testing.T) {
	t.Parallel()
	views := syntheticViews(testModel, boardPoses()[:2])
	views = append(views, View{Name: "empty"})

	_, err := Calibrate(testBoard, views, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientViews)

	var ve *ViewsError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 2, ve.Usable)
	assert.Equal(t, DefaultMinViews, ve.Required)
	require.Len(t, ve.Skipped, 1)
	assert.Contains(t, err.Error(), "empty")
}

func TestEstimateBoardPose(t *testing.T) {
	t.Parallel()
	want := boardPoses()[2]
	views := syntheticViews(testModel, []geometry.Transform{want})

	got, err := EstimateBoardPose(testModel, testBoard, views[0].Corners)
	require.NoError(t, err)
	rot, trans := geometry.Distance(got.BoardInCamera, want)
	assert.Less(t, rot, 1e-6)
	assert.Less(t, trans, 1e-6)
	assert.Less(t, got.RMS, 1e-4)
	assert.InDelta(t, got.RMS, ReprojectionRMS(testModel, testBoard, got.BoardInCamera, views[0].Corners), 1e-9)

	_, err = EstimateBoardPose(testModel, testBoard, views[0].Corners[:5])
	assert.ErrorIs(t, err, ErrCornersNotFound)
}

type fakeDetector struct {
	corners map[string][]r2.Point
	fail    error
}

func (f fakeDetector) DetectCorners(img image.Image, board Board) ([]r2.Point, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	c, ok := f.corners[img.(*image.Gray).Bounds().String()]
	if !ok {
		return nil, ErrCornersNotFound
	}
	return c, nil
}

func TestDetectViews(t *testing.T) {
	t.Parallel()
	found := image.NewGray(image.Rect(0, 0, 4, 4))
	missing := image.NewGray(image.Rect(0, 0, 2, 2))
	det := fakeDetector{corners: map[string][]r2.Point{found.Bounds().String(): {{X: 1, Y: 1}}}}

	views, err := DetectViews(context.Background(), det, testBoard, []NamedImage{
		{Name: "found", Image: found},
		{Name: "missing", Image: missing},
	})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Len(t, views[0].Corners, 1)
	assert.Nil(t, views[1].Corners)

	_, err = DetectViews(context.Background(), fakeDetector{fail: errors.New("camera unplugged")}, testBoard,
		[]NamedImage{{Name: "x", Image: found}})
	assert.EqualError(t, err, "camera unplugged")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = DetectViews(ctx, det, testBoard, []NamedImage{{Name: "found", Image: found}})
	assert.ErrorIs(t, err, context.Canceled)
}
