package intrinsic

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
)

var (
	// ErrInsufficientViews is returned when too few views have usable corners.
	ErrInsufficientViews = errors.New("insufficient calibration views")
	// ErrCornersNotFound marks a view whose chessboard corners could not be
	// detected. It is recorded per view and never aborts a run by itself.
	ErrCornersNotFound = errors.New("chessboard corners not found")
)

// DefaultMinViews is the fewest usable views Calibrate accepts.
const DefaultMinViews = 3

// View is one chessboard observation. Corners are row-major and must match
// Board.ObjectPoints; nil means detection failed.
type View struct {
	Name    string
	Corners []r2.Point
}

// Options configures Calibrate.
type Options struct {
	MinViews      int
	MaxIterations int
	// FixK3 holds the sixth-order radial term at zero.
	FixK3 bool
	// ImageWidth and ImageHeight are recorded in the model and used to
	// condition the closed-form estimate. Zero means unknown.
	ImageWidth  int
	ImageHeight int
}

// DefaultOptions returns the settings used by the command line tool.
func DefaultOptions() Options {
	return Options{MinViews: DefaultMinViews, MaxIterations: 100}
}

// SkippedView records a view excluded from calibration.
type SkippedView struct {
	Name string
	Err  error
}

// ViewError is the reprojection error of one view, in pixels.
type ViewError struct {
	Name string  `json:"name"`
	RMS  float64 `json:"rms"`
	Max  float64 `json:"max"`
}

// ViewPose is the refined board pose of one view.
type ViewPose struct {
	Name          string
	BoardInCamera geometry.Transform
}

// Result is the outcome of an intrinsic calibration run.
type Result struct {
	Model      Model
	RMS        float64 // over all corners of all used views, pixels
	PerView    []ViewError
	Poses      []ViewPose
	Skipped    []SkippedView
	Iterations int
}

// ViewsError reports that too few views survived corner detection.
type ViewsError struct {
	Usable   int
	Required int
	Skipped  []SkippedView
}

func (e *ViewsError) Error() string {
	names := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		names[i] = s.Name
	}
	return fmt.Sprintf("%v: %d usable, need %d (skipped: %s)",
		ErrInsufficientViews, e.Usable, e.Required, strings.Join(names, ", "))
}

func (e *ViewsError) Unwrap() error { return ErrInsufficientViews }

// Calibrate estimates the camera model from chessboard views. Views with
// missing or malformed corners are skipped and listed in the result; the run
// fails with ErrInsufficientViews when fewer than opts.MinViews remain.
// Identical input yields an identical result.
func Calibrate(board Board, views []View, opts Options) (*Result, error) {
	if err := board.Validate(); err != nil {
		return nil, err
	}
	if opts.MinViews <= 0 {
		opts.MinViews = DefaultMinViews
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 100
	}

	plane := board.planePoints()
	var (
		used    []View
		hs      []*mat.Dense
		skipped []SkippedView
	)
	for _, v := range views {
		if len(v.Corners) == 0 {
			skipped = append(skipped, SkippedView{Name: v.Name, Err: ErrCornersNotFound})
			continue
		}
		if len(v.Corners) != board.Corners() {
			skipped = append(skipped, SkippedView{Name: v.Name, Err: fmt.Errorf("%w: got %d corners, want %d",
				ErrCornersNotFound, len(v.Corners), board.Corners())})
			continue
		}
		h, err := findHomography(plane, v.Corners)
		if err != nil {
			skipped = append(skipped, SkippedView{Name: v.Name, Err: err})
			continue
		}
		used = append(used, v)
		hs = append(hs, h)
	}
	for _, s := range skipped {
		monitoring.Logf("intrinsic: skipping view %q: %v", s.Name, s.Err)
	}
	if len(used) < opts.MinViews {
		return nil, &ViewsError{Usable: len(used), Required: opts.MinViews, Skipped: skipped}
	}

	center, scale := conditioning(used, opts)
	init, err := closedFormIntrinsics(hs, center, scale)
	if err != nil {
		return nil, fmt.Errorf("initial intrinsics: %w", err)
	}
	kInv := inverseCameraMatrix(init)
	poses := make([]geometry.Transform, len(used))
	for i, h := range hs {
		if poses[i], err = poseFromHomography(kInv, h); err != nil {
			return nil, fmt.Errorf("initial pose for view %q: %w", used[i].Name, err)
		}
	}

	layout := paramLayout{fixK3: opts.FixK3, views: len(used)}
	x0 := layout.pack(init, poses)
	obj := board.ObjectPoints()
	residuals := func(dst, x []float64) {
		m, ps := layout.unpack(x)
		k := 0
		for vi, v := range used {
			for ci, p := range obj {
				px := m.Project(ps[vi].Apply(p))
				dst[k] = px.X - v.Corners[ci].X
				dst[k+1] = px.Y - v.Corners[ci].Y
				k += 2
			}
		}
	}
	settings := defaultLMSettings()
	settings.MaxIterations = opts.MaxIterations
	lm := levenbergMarquardt(residuals, 2*len(obj)*len(used), x0, settings)

	model, refined := layout.unpack(lm.X)
	model.Width, model.Height = opts.ImageWidth, opts.ImageHeight
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("refined intrinsics: %w", err)
	}

	res := &Result{Model: model, Skipped: skipped, Iterations: lm.Iterations}
	var total float64
	for vi, v := range used {
		var sum, worst float64
		for ci, p := range obj {
			d := model.Project(refined[vi].Apply(p)).Sub(v.Corners[ci]).Norm()
			sum += d * d
			worst = math.Max(worst, d)
		}
		total += sum
		res.PerView = append(res.PerView, ViewError{Name: v.Name, RMS: math.Sqrt(sum / float64(len(obj))), Max: worst})
		res.Poses = append(res.Poses, ViewPose{Name: v.Name, BoardInCamera: refined[vi]})
	}
	res.RMS = math.Sqrt(total / float64(len(obj)*len(used)))
	monitoring.Logf("intrinsic: calibrated from %d views (%d skipped): fx=%.2f fy=%.2f cx=%.2f cy=%.2f rms=%.4fpx",
		len(used), len(skipped), model.FX, model.FY, model.CX, model.CY, res.RMS)
	return res, nil
}

// conditioning picks the pixel centre and scale used by the closed form.
func conditioning(views []View, opts Options) (r2.Point, float64) {
	if opts.ImageWidth > 0 && opts.ImageHeight > 0 {
		w, h := float64(opts.ImageWidth), float64(opts.ImageHeight)
		return r2.Point{X: w / 2, Y: h / 2}, math.Max(w, h) / 2
	}
	var c r2.Point
	var n float64
	for _, v := range views {
		for _, p := range v.Corners {
			c = c.Add(p)
			n++
		}
	}
	c = c.Mul(1 / n)
	var spread float64
	for _, v := range views {
		for _, p := range v.Corners {
			spread = math.Max(spread, p.Sub(c).Norm())
		}
	}
	if spread == 0 {
		spread = 1
	}
	return c, spread
}

// paramLayout maps between the optimiser's flat parameter vector and the
// camera model plus per-view poses:
// [fx fy cx cy k1 k2 p1 p2 (k3)] then [rx ry rz tx ty tz] per view.
type paramLayout struct {
	fixK3 bool
	views int
}

func (l paramLayout) intrinsicCount() int {
	if l.fixK3 {
		return 8
	}
	return 9
}

func (l paramLayout) pack(m Model, poses []geometry.Transform) []float64 {
	x := []float64{m.FX, m.FY, m.CX, m.CY,
		m.Distortion.K1, m.Distortion.K2, m.Distortion.P1, m.Distortion.P2}
	if !l.fixK3 {
		x = append(x, m.Distortion.K3)
	}
	for _, p := range poses {
		x = appendPose(x, p)
	}
	return x
}

func (l paramLayout) unpack(x []float64) (Model, []geometry.Transform) {
	m := Model{FX: x[0], FY: x[1], CX: x[2], CY: x[3],
		Distortion: Distortion{K1: x[4], K2: x[5], P1: x[6], P2: x[7]}}
	if !l.fixK3 {
		m.Distortion.K3 = x[8]
	}
	off := l.intrinsicCount()
	poses := make([]geometry.Transform, l.views)
	for i := range poses {
		poses[i] = poseFromParams(x[off+6*i:])
	}
	return m, poses
}

func appendPose(x []float64, p geometry.Transform) []float64 {
	w := p.Rotation.RotVec()
	return append(x, w.X, w.Y, w.Z, p.Translation.X, p.Translation.Y, p.Translation.Z)
}

func poseFromParams(x []float64) geometry.Transform {
	return geometry.Transform{
		Rotation:    geometry.RotationFromRotVec(r3.Vector{X: x[0], Y: x[1], Z: x[2]}),
		Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}
