// Package handeye solves the eye-in-hand calibration problem AX = XB for the
// fixed pose of a camera mounted on a robot end-effector.
//
// Each Sample pairs the end-effector pose in the robot base frame with the
// calibration board pose observed in the camera frame at the same instant.
// For samples i and j the board is stationary in the base frame, so
//
//	E_i·X·C_i = E_j·X·C_j  ⇒  (E_j⁻¹·E_i)·X = X·(C_j·C_i⁻¹)
//
// which is AX = XB with A = E_j⁻¹·E_i and B = C_j·C_i⁻¹.
package handeye

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
)

var (
	// ErrInsufficientSamples is returned when fewer than the minimum number of
	// usable sample pairs are available.
	ErrInsufficientSamples = errors.New("insufficient hand-eye samples")
	// ErrDegenerateMotionSet is returned when the motions do not constrain the
	// rotation: too many pairs with near-zero rotation, or all rotation axes
	// parallel.
	ErrDegenerateMotionSet = errors.New("degenerate motion set")
	// ErrResidualTooHigh is returned by Result.Check.
	ErrResidualTooHigh = errors.New("hand-eye residual above threshold")
)

// Defaults for Options.
const (
	DefaultMinRotationDeg   = 2.0
	DefaultMinPairs         = 3
	DefaultMinAxisSpreadDeg = 2.0
)

// Sample is one calibration observation.
type Sample struct {
	ID            string             `json:"id"`
	EEFInBase     geometry.Transform `json:"eef_in_base"`
	BoardInCamera geometry.Transform `json:"board_in_camera"`
	ImagePath     string             `json:"image_path,omitempty"`
	CapturedAt    time.Time          `json:"captured_at"`
}

// Options tunes the solver.
type Options struct {
	// MinRotationDeg excludes pairs whose relative rotation is smaller.
	MinRotationDeg float64
	// MinPairs is the fewest usable pairs accepted.
	MinPairs int
	// MinAxisSpreadDeg is the smallest spread of rotation axes that still
	// determines the rotation.
	MinAxisSpreadDeg float64
	// Refine runs a nonlinear refinement after the closed-form solve.
	Refine bool
}

// DefaultOptions returns the solver defaults.
func DefaultOptions() Options {
	return Options{
		MinRotationDeg:   DefaultMinRotationDeg,
		MinPairs:         DefaultMinPairs,
		MinAxisSpreadDeg: DefaultMinAxisSpreadDeg,
		Refine:           true,
	}
}

// Validate rejects options the solver cannot honour. Three pairs are the
// fewest that constrain both rotation and translation.
func (o Options) Validate() error {
	if o.MinPairs < DefaultMinPairs {
		return fmt.Errorf("min pairs must be at least %d, got %d", DefaultMinPairs, o.MinPairs)
	}
	if o.MinRotationDeg < 0 || o.MinAxisSpreadDeg < 0 {
		return errors.New("rotation thresholds must not be negative")
	}
	return nil
}

// Pair identifies two samples and their relative end-effector rotation.
type Pair struct {
	I           int     `json:"i"`
	J           int     `json:"j"`
	RotationDeg float64 `json:"rotation_deg"`
}

// Residual is the pairwise AX/XB consistency error of a solution.
type Residual struct {
	MeanRotationDeg float64        `json:"mean_rotation_deg"`
	MaxRotationDeg  float64        `json:"max_rotation_deg"`
	MeanTranslation float64        `json:"mean_translation_m"`
	MaxTranslation  float64        `json:"max_translation_m"`
	PerPair         []PairResidual `json:"per_pair,omitempty"`
}

// PairResidual is the consistency error of one pair.
type PairResidual struct {
	Pair
	ErrorDeg    float64 `json:"error_deg"`
	Translation float64 `json:"translation_m"`
}

// Result is a solved camera-in-end-effector transform with its quality.
type Result struct {
	ID            string             `json:"id"`
	CameraInEEF   geometry.Transform `json:"camera_in_eef"`
	Residual      Residual           `json:"residual"`
	Quality       geometry.Quality   `json:"quality"`
	Samples       int                `json:"samples"`
	UsedPairs     []Pair             `json:"used_pairs"`
	ExcludedPairs []Pair             `json:"excluded_pairs,omitempty"`
	Refined       bool               `json:"refined"`
}

// Check returns ErrResidualTooHigh when the mean residual exceeds either
// threshold. Non-positive thresholds are ignored.
func (r *Result) Check(maxRotationDeg, maxTranslation float64) error {
	if maxRotationDeg > 0 && r.Residual.MeanRotationDeg > maxRotationDeg {
		return fmt.Errorf("%w: mean rotation error %.3f° > %.3f°",
			ErrResidualTooHigh, r.Residual.MeanRotationDeg, maxRotationDeg)
	}
	if maxTranslation > 0 && r.Residual.MeanTranslation > maxTranslation {
		return fmt.Errorf("%w: mean translation error %.4fm > %.4fm",
			ErrResidualTooHigh, r.Residual.MeanTranslation, maxTranslation)
	}
	return nil
}

// MotionSetError describes why a sample set could not be solved. It matches
// ErrInsufficientSamples, ErrDegenerateMotionSet, or both.
type MotionSetError struct {
	Samples  int
	Usable   []Pair
	Excluded []Pair
	Reason   string
	errs     []error
}

func (e *MotionSetError) Error() string {
	msg := fmt.Sprintf("%d samples, %d usable pairs, %d excluded", e.Samples, len(e.Usable), len(e.Excluded))
	if len(e.Excluded) > 0 {
		msg += " ("
		for i, p := range e.Excluded {
			if i > 0 {
				msg += ", "
			}
			if i == 8 {
				msg += "..."
				break
			}
			msg += fmt.Sprintf("%d-%d:%.2f°", p.I, p.J, p.RotationDeg)
		}
		msg += ")"
	}
	kinds := ""
	for i, err := range e.errs {
		if i > 0 {
			kinds += ", "
		}
		kinds += err.Error()
	}
	return fmt.Sprintf("%s: %s: %s", kinds, e.Reason, msg)
}

func (e *MotionSetError) Unwrap() []error { return e.errs }

type motion struct {
	pair Pair
	a, b geometry.Transform
}

// Calibrate solves AX = XB over every pair of samples. Rotation comes from a
// least-squares fit of rotation axes, translation from a stacked linear
// system; Options.Refine adds a nonlinear polish of both.
func Calibrate(samples []Sample, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	for i, s := range samples {
		if err := s.EEFInBase.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d end-effector pose: %w", i, err)
		}
		if err := s.BoardInCamera.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d board pose: %w", i, err)
		}
	}
	if len(samples) < 3 {
		return nil, &MotionSetError{
			Samples: len(samples),
			Reason:  "need at least 3 samples",
			errs:    []error{ErrInsufficientSamples},
		}
	}

	minRot := opts.MinRotationDeg * math.Pi / 180
	var usable []motion
	var used, excluded []Pair
	for i := 0; i < len(samples); i++ {
		for j := i + 1; j < len(samples); j++ {
			a := geometry.Compose(samples[j].EEFInBase.Inverse(), samples[i].EEFInBase)
			b := geometry.Compose(samples[j].BoardInCamera, samples[i].BoardInCamera.Inverse())
			angA, angB := a.Rotation.Angle(), b.Rotation.Angle()
			p := Pair{I: i, J: j, RotationDeg: angA * 180 / math.Pi}
			if angA < minRot || angB < minRot {
				excluded = append(excluded, p)
				continue
			}
			usable = append(usable, motion{pair: p, a: a, b: b})
			used = append(used, p)
		}
	}
	if len(usable) < opts.MinPairs {
		errs := []error{ErrInsufficientSamples}
		if len(excluded) > 0 {
			errs = append(errs, ErrDegenerateMotionSet)
		}
		return nil, &MotionSetError{
			Samples: len(samples), Usable: used, Excluded: excluded,
			Reason: fmt.Sprintf("need %d pairs with rotation >= %.1f°", opts.MinPairs, opts.MinRotationDeg),
			errs:   errs,
		}
	}

	rot, spreadDeg, err := solveRotation(usable)
	if err != nil {
		return nil, err
	}
	if spreadDeg < opts.MinAxisSpreadDeg {
		return nil, &MotionSetError{
			Samples: len(samples), Usable: used, Excluded: excluded,
			Reason: fmt.Sprintf("rotation axes nearly parallel (spread %.2f° < %.1f°)", spreadDeg, opts.MinAxisSpreadDeg),
			errs:   []error{ErrDegenerateMotionSet},
		}
	}
	t, err := solveTranslation(usable, rot)
	if err != nil {
		return nil, err
	}
	x := geometry.Transform{Rotation: rot, Translation: t}

	res := &Result{
		ID:            uuid.NewString(),
		Samples:       len(samples),
		UsedPairs:     used,
		ExcludedPairs: excluded,
	}
	if opts.Refine {
		if refined, ok := refine(usable, x); ok {
			x = refined
			res.Refined = true
		}
	}
	res.CameraInEEF = x
	res.Residual = residual(usable, x)
	res.Quality = geometry.ClassifyResidual(res.Residual.MeanRotationDeg, res.Residual.MeanTranslation)
	monitoring.Logf("handeye: solved from %d samples (%d pairs, %d excluded): %v residual %.3f°/%.2fmm quality=%s",
		len(samples), len(used), len(excluded), x, res.Residual.MeanRotationDeg,
		res.Residual.MeanTranslation*1000, res.Quality)
	return res, nil
}

// solveRotation fits R with α = R·β over the log-map axes of every pair
// (Kabsch). It also returns the angular spread of the axes in degrees.
func solveRotation(ms []motion) (geometry.Rotation, float64, error) {
	m := mat.NewDense(3, 3, nil)
	scatter := mat.NewSymDense(3, nil)
	for _, mo := range ms {
		alpha := mo.a.Rotation.RotVec()
		beta := mo.b.Rotation.RotVec()
		av := []float64{alpha.X, alpha.Y, alpha.Z}
		bv := []float64{beta.X, beta.Y, beta.Z}
		unit := beta.Normalize()
		uv := []float64{unit.X, unit.Y, unit.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m.Set(i, j, m.At(i, j)+av[i]*bv[j])
				if j >= i {
					scatter.SetSym(i, j, scatter.At(i, j)+uv[i]*uv[j])
				}
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return geometry.Rotation{}, 0, fmt.Errorf("%w: rotation svd failed", ErrDegenerateMotionSet)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var uv mat.Dense
	uv.Mul(&u, v.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&uv) < 0 {
		d.SetDiag(2, -1)
	}
	var ud, r mat.Dense
	ud.Mul(&u, d)
	r.Mul(&ud, v.T())

	var eig mat.EigenSym
	if ok := eig.Factorize(scatter, false); !ok {
		return geometry.Rotation{}, 0, fmt.Errorf("%w: axis scatter eigen decomposition failed", ErrDegenerateMotionSet)
	}
	vals := eig.Values(nil) // ascending
	spread := 0.0
	if vals[2] > 0 {
		spread = 2 * math.Atan(math.Sqrt(math.Max(vals[1], 0)/vals[2])) * 180 / math.Pi
	}
	return geometry.RotationFromDense(&r), spread, nil
}

// solveTranslation solves the stacked (R_A − I)·t = R·t_B − t_A in the
// least-squares sense.
func solveTranslation(ms []motion, rot geometry.Rotation) (r3.Vector, error) {
	a := mat.NewDense(3*len(ms), 3, nil)
	b := mat.NewVecDense(3*len(ms), nil)
	for k, mo := range ms {
		ra := mo.a.Rotation
		rhs := rot.Apply(mo.b.Translation).Sub(mo.a.Translation)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				v := ra[i][j]
				if i == j {
					v -= 1
				}
				a.Set(3*k+i, j, v)
			}
		}
		b.SetVec(3*k, rhs.X)
		b.SetVec(3*k+1, rhs.Y)
		b.SetVec(3*k+2, rhs.Z)
	}
	var t mat.VecDense
	if err := t.SolveVec(a, b); err != nil {
		return r3.Vector{}, fmt.Errorf("%w: translation solve: %v", ErrDegenerateMotionSet, err)
	}
	return r3.Vector{X: t.AtVec(0), Y: t.AtVec(1), Z: t.AtVec(2)}, nil
}

// pairError returns the rotation (radians) and translation (metres)
// disagreement between A·X and X·B.
func pairError(mo motion, x geometry.Transform) (float64, float64) {
	return geometry.Distance(geometry.Compose(mo.a, x), geometry.Compose(x, mo.b))
}

func residual(ms []motion, x geometry.Transform) Residual {
	var res Residual
	for _, mo := range ms {
		rot, trans := pairError(mo, x)
		deg := rot * 180 / math.Pi
		res.MeanRotationDeg += deg
		res.MeanTranslation += trans
		res.MaxRotationDeg = math.Max(res.MaxRotationDeg, deg)
		res.MaxTranslation = math.Max(res.MaxTranslation, trans)
		res.PerPair = append(res.PerPair, PairResidual{Pair: mo.pair, ErrorDeg: deg, Translation: trans})
	}
	n := float64(len(ms))
	res.MeanRotationDeg /= n
	res.MeanTranslation /= n
	return res
}
