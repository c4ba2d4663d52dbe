package intrinsic

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// lmSettings controls the Levenberg-Marquardt solver.
type lmSettings struct {
	MaxIterations int
	GradientTol   float64
	StepTol       float64
}

func defaultLMSettings() lmSettings {
	return lmSettings{MaxIterations: 100, GradientTol: 1e-10, StepTol: 1e-12}
}

// lmResult is the outcome of a Levenberg-Marquardt run.
type lmResult struct {
	X          []float64
	Cost       float64 // ½‖r‖²
	Iterations int
}

// levenbergMarquardt minimises ½‖f(x)‖² starting at x0. Jacobians are
// central finite differences; the damping term is scaled by diag(JᵀJ).
// The run is deterministic for a deterministic f.
func levenbergMarquardt(f func(dst, x []float64), m int, x0 []float64, s lmSettings) lmResult {
	n := len(x0)
	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	f(r, x)
	cost := 0.5 * floats.Dot(r, r)

	jac := mat.NewDense(m, n, nil)
	jSettings := &fd.JacobianSettings{Formula: fd.Central}
	var jtj mat.SymDense
	var g mat.VecDense
	aug := mat.NewSymDense(n, nil)
	xn := make([]float64, n)
	rn := make([]float64, m)
	lambda := 1e-3

	iter := 0
	for ; iter < s.MaxIterations; iter++ {
		fd.Jacobian(jac, f, x, jSettings)
		jtj.SymOuterK(1, jac.T())
		g.MulVec(jac.T(), mat.NewVecDense(m, r))
		if mat.Norm(&g, math.Inf(1)) < s.GradientTol {
			break
		}

		improved := false
		for lambda < 1e16 {
			aug.CopySym(&jtj)
			for i := 0; i < n; i++ {
				d := jtj.At(i, i)
				if d < 1e-12 {
					d = 1e-12
				}
				aug.SetSym(i, i, d*(1+lambda))
			}
			var chol mat.Cholesky
			if ok := chol.Factorize(aug); !ok {
				lambda *= 10
				continue
			}
			var delta mat.VecDense
			if err := chol.SolveVecTo(&delta, &g); err != nil {
				lambda *= 10
				continue
			}
			for i := 0; i < n; i++ {
				xn[i] = x[i] - delta.AtVec(i)
			}
			f(rn, xn)
			newCost := 0.5 * floats.Dot(rn, rn)
			if newCost < cost && !math.IsNaN(newCost) {
				step := mat.Norm(&delta, 2)
				copy(x, xn)
				copy(r, rn)
				cost = newCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				if step < s.StepTol*(floats.Norm(x, 2)+s.StepTol) {
					return lmResult{X: x, Cost: cost, Iterations: iter + 1}
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	return lmResult{X: x, Cost: cost, Iterations: iter}
}
