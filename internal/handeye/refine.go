package handeye

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/handeye/internal/geometry"
	"github.com/banshee-data/handeye/internal/monitoring"
)

// translationScale converts metres into the cost's rotation units: 1 cm of
// translation disagreement weighs as much as 1 radian of rotation.
const translationScale = 0.01

func paramsToTransform(x []float64) geometry.Transform {
	return geometry.Transform{
		Rotation:    geometry.RotationFromRotVec(r3.Vector{X: x[0], Y: x[1], Z: x[2]}),
		Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}

func transformToParams(t geometry.Transform) []float64 {
	w := t.Rotation.RotVec()
	return []float64{w.X, w.Y, w.Z, t.Translation.X, t.Translation.Y, t.Translation.Z}
}

// cost is the mean squared AX/XB disagreement.
func cost(ms []motion, x geometry.Transform) float64 {
	var sum float64
	for _, mo := range ms {
		ax := geometry.Compose(mo.a, x)
		xb := geometry.Compose(x, mo.b)
		w := ax.Rotation.Mul(xb.Rotation.Transpose()).RotVec()
		d := ax.Translation.Sub(xb.Translation).Mul(1 / translationScale)
		sum += w.Norm2() + d.Norm2()
	}
	return sum / float64(len(ms))
}

// refine minimises cost with BFGS from the closed-form start. The refined
// transform is returned only when it improves the cost.
func refine(ms []motion, start geometry.Transform) (geometry.Transform, bool) {
	f := func(x []float64) float64 {
		return cost(ms, paramsToTransform(x))
	}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central})
		},
	}
	x0 := transformToParams(start)
	initial := f(x0)
	settings := &optimize.Settings{
		GradientThreshold: 1e-12,
		MajorIterations:   200,
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if err != nil {
		monitoring.Logf("handeye: refinement stopped: %v", err)
	}
	if result == nil || math.IsNaN(result.F) || result.F >= initial {
		return start, false
	}
	return paramsToTransform(result.X), true
}
