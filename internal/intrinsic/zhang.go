package intrinsic

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

var errNoClosedForm = errors.New("closed-form intrinsics are not positive definite")

// vij builds the constraint row of Zhang's method for columns i and j of h.
func vij(h mat.Matrix, i, j int) []float64 {
	h1i, h2i, h3i := h.At(0, i), h.At(1, i), h.At(2, i)
	h1j, h2j, h3j := h.At(0, j), h.At(1, j), h.At(2, j)
	return []float64{
		h1i * h1j,
		h1i*h2j + h2i*h1j,
		h2i * h2j,
		h3i*h1j + h1i*h3j,
		h3i*h2j + h2i*h3j,
		h3i * h3j,
	}
}

// closedFormIntrinsics recovers a zero-skew camera matrix from per-view
// homographies via the image of the absolute conic B = K⁻ᵀK⁻¹.
//
// Homographies are first conditioned by N, which maps pixels around center
// into a unit-scale box; K is recovered as N⁻¹·K'.
func closedFormIntrinsics(hs []*mat.Dense, center r2.Point, scale float64) (Model, error) {
	n := mat.NewDense(3, 3, []float64{
		1 / scale, 0, -center.X / scale,
		0, 1 / scale, -center.Y / scale,
		0, 0, 1,
	})
	v := mat.NewDense(2*len(hs)+1, 6, nil)
	for k, h := range hs {
		var hn mat.Dense
		hn.Mul(n, h)
		v12 := vij(&hn, 0, 1)
		v11 := vij(&hn, 0, 0)
		v22 := vij(&hn, 1, 1)
		diff := make([]float64, 6)
		for i := range diff {
			diff[i] = v11[i] - v22[i]
		}
		v.SetRow(2*k, v12)
		v.SetRow(2*k+1, diff)
	}
	// Zero skew: B12 = 0.
	v.SetRow(2*len(hs), []float64{0, 1, 0, 0, 0, 0})

	b, err := nullVector(v)
	if err != nil {
		return Model{}, err
	}
	if b[0] < 0 {
		for i := range b {
			b[i] = -b[i]
		}
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]

	den := b11*b22 - b12*b12
	if b11 <= 0 || den <= 0 {
		return Model{}, errNoClosedForm
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda/b11 <= 0 {
		return Model{}, errNoClosedForm
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	gamma := -b12 * alpha * alpha * beta / lambda
	u0 := gamma*v0/beta - b13*alpha*alpha/lambda

	m := Model{
		FX: scale * alpha,
		FY: scale * beta,
		CX: scale*u0 + center.X,
		CY: scale*v0 + center.Y,
	}
	if err := m.Validate(); err != nil {
		return Model{}, fmt.Errorf("%w: %v", errNoClosedForm, err)
	}
	return m, nil
}

func inverseCameraMatrix(m Model) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1 / m.FX, 0, -m.CX / m.FX,
		0, 1 / m.FY, -m.CY / m.FY,
		0, 0, 1,
	})
}
